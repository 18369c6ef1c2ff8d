package dashboard

import (
	"fmt"
	"html/template"
	"net/http"

	"solarrelay-go/types"
)

type pageData struct {
	Ready     bool
	Snap      types.Snapshot
	Config    types.Config
	Lines     []string
	TimeText  string
	TempText  string
	AuthOn    bool
	Committed bool
}

var pageTmpl = template.Must(template.New("page").Funcs(template.FuncMap{
	"mw2w": func(mw float64) float64 { return mw / 1000 },
}).Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>Solar System</title>
<style>
body{font-family:sans-serif;padding:15px;max-width:450px;margin:auto;background:#f4f4f4}
.card{background:#fff;padding:15px;border-radius:8px;box-shadow:0 2px 5px rgba(0,0,0,.1);margin-bottom:15px}
.on{font-weight:bold;color:#2e7d32}.off{font-weight:bold;color:#c62828}
input{width:100%;box-sizing:border-box;margin-bottom:10px;padding:10px;border:1px solid #ccc;border-radius:4px}
button{width:100%;padding:12px;background:#1976d2;color:#fff;border:none;border-radius:4px;cursor:pointer;margin-bottom:5px}
.btn-off{background:#c62828}.btn-on{background:#2e7d32}.btn-reset{background:#757575;font-size:12px;padding:8px}
.peak{color:#d32f2f;font-size:.85em}
.log-box{background:#212121;color:#00e676;padding:10px;font-family:monospace;font-size:11px;height:150px;overflow-y:auto;border-radius:4px}
</style></head><body>
<h1>Solar System</h1>
<div class="card" id="status">
{{if .Ready}}{{with .Snap}}
<p>Time: <span id="t">{{$.TimeText}}</span></p>
<p>RTC Temp: <b id="temp">{{$.TempText}}</b></p>
{{with .Sample}}
<p>Voltage: <b id="v">{{printf "%.2f" .VoltageV}} V</b> <span class="peak">(Peak: {{printf "%.2f" $.Snap.Telemetry.PeakVoltageV}})</span></p>
<p>Current: <b id="c">{{printf "%.1f" .CurrentMA}} mA</b> <span class="peak">(Peak: {{printf "%.1f" $.Snap.Telemetry.PeakCurrentMA}})</span></p>
<p>Power: <b id="p">{{printf "%.2f" (mw2w .PowerMW)}} W</b> <span class="peak">(Peak: {{printf "%.2f" (mw2w $.Snap.Telemetry.PeakPowerMW)}})</span></p>
{{else}}<p>Power monitor: {{$.Snap.Peripheral}}</p>{{end}}
<p>Energy: <b id="e">{{printf "%.3f" .Telemetry.EnergyWh}} Wh</b></p>
<p>Relay State: <span id="r" class="{{if $.Committed}}on{{else}}off{{end}}">{{if $.Committed}}ACTIVE{{else}}INACTIVE{{end}}</span></p>
{{end}}{{else}}<p>Waiting for first reading...</p>{{end}}
<button class="btn-reset" onclick="post('/api/reset','POST')">Reset Peak Values</button>
</div>
<h2>Manual Control</h2><div class="card">
<button class="btn-on" onclick="post('/api/relay','POST',{on:true})">FORCE ON</button>
<button class="btn-off" onclick="post('/api/relay','POST',{on:false})">FORCE OFF</button>
</div>
<h2>History</h2><div id="lb" class="log-box">{{range .Lines}}<div>{{.}}</div>{{end}}</div>
<h2>Config</h2><div class="card"><form id="cfg">
Low Cutoff (V): <input type="number" step="0.1" name="v_low" value="{{printf "%.1f" .Config.VLowCutoff}}">
High Threshold (V): <input type="number" step="0.1" name="v_high" value="{{printf "%.1f" .Config.VHighOn}}">
ON Current (mA): <input type="number" step="1" name="c_high" value="{{printf "%.0f" .Config.COnThresholdMA}}">
Wake (HH:MM): <input type="time" name="wake" value="{{printf "%02d:%02d" .Config.WakeHour .Config.WakeMinute}}">
<button type="submit">Apply Settings</button></form></div>
<p style="text-align:center"><a href="/">Manual Refresh</a></p>
<script>
var authOn={{.AuthOn}};
var lb=document.getElementById('lb');lb.scrollTop=lb.scrollHeight;
function token(){
  var t=sessionStorage.getItem('tok');
  if(t||!authOn)return Promise.resolve(t);
  var pw=prompt('Password');
  return fetch('/api/token',{method:'POST',body:JSON.stringify({password:pw})})
    .then(function(r){return r.json()}).then(function(j){if(j.token)sessionStorage.setItem('tok',j.token);return j.token});
}
function post(url,method,body){
  return token().then(function(t){
    var h={'Content-Type':'application/json'};if(t)h['Authorization']='Bearer '+t;
    return fetch(url,{method:method,headers:h,body:body?JSON.stringify(body):undefined});
  }).then(function(r){
    if(r.status===401){sessionStorage.removeItem('tok');}
    if(!r.ok)r.json().then(function(j){alert(j.error)});
  });
}
document.getElementById('cfg').onsubmit=function(ev){
  ev.preventDefault();var f=ev.target;var w=f.wake.value.split(':');
  post('/api/config','PUT',{v_low:+f.v_low.value,v_high:+f.v_high.value,c_high:+f.c_high.value,wake_h:+w[0],wake_m:+w[1]});
};
var ws=new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/ws');
ws.onmessage=function(ev){
  var m=JSON.parse(ev.data);
  if(m.type==='log'){lb.innerHTML='';m.data.forEach(function(l){var d=document.createElement('div');d.textContent=l;lb.appendChild(d)});lb.scrollTop=lb.scrollHeight;return}
  var s=m.data,set=function(id,txt){var e=document.getElementById(id);if(e)e.textContent=txt};
  if(s.sample){set('v',s.sample.voltage_v.toFixed(2)+' V');set('c',s.sample.current_ma.toFixed(1)+' mA');set('p',(s.sample.power_mw/1000).toFixed(2)+' W')}
  set('e',s.telemetry.energy_wh.toFixed(3)+' Wh');
  var r=document.getElementById('r');if(r){r.textContent=s.relay.committed?'ACTIVE':'INACTIVE';r.className=s.relay.committed?'on':'off'}
};
</script>
</body></html>`))

func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	snap, ready := s.snapshot()
	cfg, ok := s.config()
	if !ok {
		cfg = snap.Config
	}
	d := pageData{
		Ready:     ready,
		Snap:      snap,
		Config:    cfg,
		Lines:     renderLog(s.logEntries()),
		TimeText:  "Not Synced",
		TempText:  "n/a",
		AuthOn:    s.opts.JWTSecret != "",
		Committed: snap.Relay.Committed,
	}
	if snap.LocalTime != nil {
		d.TimeText = snap.LocalTime.Format("15:04:05")
	}
	if snap.RTCTempC != nil {
		d.TempText = fmt.Sprintf("%.1f C", *snap.RTCTempC)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, d); err != nil {
		s.log.Warn("page render failed", "err", err)
	}
}
