package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// bridgeMethods overrides the generic verb/noun split for BridgeService, whose method names are
// not CRUD-shaped.
var bridgeMethods = map[string]ActionResource{
	"SyncCategories":  {Action: "sync", Resource: "category"},
	"SyncCourses":     {Action: "sync", Resource: "course"},
	"FullSync":        {Action: "sync", Resource: "catalog"},
	"TestConnection":  {Action: "test", Resource: "lms"},
	"SiteInfo":        {Action: "get", Resource: "lms"},
	"Provision":       {Action: "provision", Resource: "identity"},
	"MintSSOURL":      {Action: "mint", Resource: "sso"},
	"CourseAccessURL": {Action: "access", Resource: "course"},
	"ListAuditLogs":   {Action: "list", Resource: "audit"},
}

// ParseFullMethod returns action and resource for a gRPC full method
// (e.g. /lmsbridge.v1.BridgeService/FullSync -> sync, catalog).
// Other services fall back to a verb from the method prefix and a resource from the service name.
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	serviceName := beforeSlash[dot+1:]
	if serviceName == "BridgeService" {
		if ar, ok := bridgeMethods[method]; ok {
			return ar
		}
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(serviceName)}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	for _, p := range []struct{ prefix, action string }{
		{"Get", "get"}, {"List", "list"}, {"Create", "create"}, {"Update", "update"},
		{"Delete", "delete"}, {"Sync", "sync"}, {"Check", "check"}, {"Watch", "watch"},
	} {
		if strings.HasPrefix(method, p.prefix) && method != p.prefix {
			return p.action
		}
	}
	return strings.ToLower(method)
}
