package httpapi

import (
	"net/http"
	"strings"
)

// Action is one inbound federation endpoint under /federation/.
type Action int

const (
	ActionUnknown Action = iota
	ActionLogin
	ActionRedirect
	ActionWebhook
	ActionConnect
	ActionChannelAuth
	ActionEvents
)

// Actions lists every routable action.
var Actions = []Action{ActionLogin, ActionRedirect, ActionWebhook, ActionConnect, ActionChannelAuth, ActionEvents}

// ParseAction maps a path segment such as "login" or "/login" to its Action.
func ParseAction(raw string) Action {
	switch strings.Trim(strings.TrimSpace(raw), "/") {
	case "login":
		return ActionLogin
	case "redirect":
		return ActionRedirect
	case "webhook":
		return ActionWebhook
	case "connect":
		return ActionConnect
	case "channel-auth":
		return ActionChannelAuth
	case "events":
		return ActionEvents
	default:
		return ActionUnknown
	}
}

func (a Action) String() string {
	switch a {
	case ActionLogin:
		return "login"
	case ActionRedirect:
		return "redirect"
	case ActionWebhook:
		return "webhook"
	case ActionConnect:
		return "connect"
	case ActionChannelAuth:
		return "channel-auth"
	case ActionEvents:
		return "events"
	case ActionUnknown:
		return "unknown"
	}
	return "unknown"
}

// Method is the HTTP method the action accepts.
func (a Action) Method() string {
	switch a {
	case ActionLogin, ActionRedirect, ActionEvents:
		return http.MethodGet
	case ActionWebhook, ActionConnect, ActionChannelAuth:
		return http.MethodPost
	case ActionUnknown:
		return ""
	}
	return ""
}

// Path is the route the action is served on.
func (a Action) Path() string {
	return "/federation/" + a.String()
}
