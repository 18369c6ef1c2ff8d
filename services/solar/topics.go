package solar

import "solarrelay-go/bus"

// Bus topics owned or consumed by the controller.
var (
	TopicConfig     = bus.T("config", "solar")
	TopicControl    = bus.T("solar", "control")
	TopicOverride   = TopicControl.Append("override")
	TopicResetStats = TopicControl.Append("reset_stats")
	TopicSnapshot   = TopicControl.Append("snapshot")
	TopicState      = bus.T("solar", "state")
	TopicLog        = bus.T("solar", "log")
	TopicLogAdd     = bus.T("solar", "log", "add")
	TopicRelayEvent = bus.T("solar", "event", "relay")
	TopicInhibit    = bus.T("solar", "inhibit")
	TopicPower      = bus.T("solar", "power")
	TopicNetwork    = bus.T("net", "link")
)

// InhibitTopic is the retained flag a collaborator sets to hold sleep off.
func InhibitTopic(who string) bus.Topic { return TopicInhibit.Append(who) }

// LinkTopic is the retained types.Link a network collaborator reports on.
// The controller counts as online while any of them is up.
func LinkTopic(who string) bus.Topic { return TopicNetwork.Append(who) }
