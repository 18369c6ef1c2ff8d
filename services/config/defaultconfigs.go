package config

// -----------------------------------------------------------------------------
// Embedded settings
//
// Key: board name passed to LoadSettings.
// Val: YAML defaults for that board; a settings file and the environment
// override them.
// -----------------------------------------------------------------------------

const settingsHost = `
device:
  timezone: Local
  simulated: true
  ntp_server: pool.ntp.org
  time_url: ""
sampling:
  slow: 10s
  fast: 2s
  margin_v: 0.2
  grace: 5s
  settle: 60ms
sleep:
  dusk_hour: 19
  dwell: 30m
  check: 10s
  require_online: true
dashboard:
  listen: ":8080"
  jwt_secret: ""
  admin_password: ""
  rate_per_sec: 2
  burst: 4
mqtt:
  broker: ""
  client_id: solarrelay
  prefix: solarrelay
  qos: 1
heartbeat:
  interval: 60s
log:
  level: info
  format: text
store:
  path: prefs.yaml
`

// The pico has no network: sleep needs only a trusted RTC.
const settingsPico = `
device:
  timezone: UTC
sampling:
  slow: 10s
  fast: 2s
  margin_v: 0.2
  grace: 5s
  settle: 60ms
sleep:
  dusk_hour: 19
  dwell: 30m
  check: 10s
  require_online: false
heartbeat:
  interval: 60s
log:
  level: info
`

var embeddedSettings = map[string][]byte{
	"host": []byte(settingsHost),
	"pico": []byte(settingsPico),
}
