package handler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	bridgev1 "lms-bridge/api/bridge/v1"
	"lms-bridge/internal/bridge"
	catalogdomain "lms-bridge/internal/catalog/domain"
	catalogservice "lms-bridge/internal/catalog/service"
	identityservice "lms-bridge/internal/identity/service"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/policy/engine"
	"lms-bridge/internal/security"
	"lms-bridge/internal/server/interceptors"
	"lms-bridge/internal/sso"
)

// Server implements BridgeService (bridge/v1/bridge.proto) over *bridge.Service.
type Server struct {
	svc *bridge.Service
	log logrus.FieldLogger
}

var _ bridgev1.BridgeServiceServer = (*Server)(nil)

// NewServer returns a BridgeService server. svc may be nil; then every RPC returns Unimplemented.
func NewServer(svc *bridge.Service, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{svc: svc, log: log.WithField("component", "bridge.grpc")}
}

func (s *Server) caller(ctx context.Context) (engine.Caller, error) {
	if s.svc == nil {
		return engine.Caller{}, status.Error(codes.Unimplemented, "bridge service not configured")
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return engine.Caller{}, status.Error(codes.Unauthenticated, "missing identity")
	}
	role, _ := interceptors.GetRole(ctx)
	return engine.Caller{ID: userID, Role: role}, nil
}

func (s *Server) SyncCategories(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.SyncCategories(ctx, c)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(syncResultFields(res))
}

func (s *Server) SyncCourses(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.SyncCourses(ctx, c)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(syncResultFields(res))
}

// FullSync returns both pass results. When the course pass fails the completed category pass is
// logged, since a failed RPC carries no response.
func (s *Server) FullSync(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.FullSync(ctx, c)
	if err != nil {
		if res != nil && res.Categories != nil {
			s.log.WithFields(logrus.Fields{
				"created":   res.Categories.Created,
				"updated":   res.Categories.Updated,
				"unchanged": res.Categories.Unchanged,
			}).Warn("full sync failed after category pass")
		}
		return nil, s.toStatus(err)
	}
	fields := map[string]any{}
	if res.Categories != nil {
		fields["categories"] = syncResultFields(res.Categories)
	}
	if res.Courses != nil {
		fields["courses"] = syncResultFields(res.Courses)
	}
	return newStruct(fields)
}

func (s *Server) TestConnection(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.svc.TestConnection(ctx, c)
	if err != nil && !lms.IsRemote(err) {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"ok": ok && err == nil})
}

func (s *Server) SiteInfo(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.svc.SiteInfo(ctx, c)
	if err != nil {
		return nil, s.toStatus(err)
	}
	functions := make([]any, 0, len(info.Functions))
	for _, f := range info.Functions {
		functions = append(functions, f.Name)
	}
	return newStruct(map[string]any{
		"site_name": info.SiteName,
		"site_url":  info.SiteURL,
		"username":  info.Username,
		"release":   info.Release,
		"version":   info.Version,
		"functions": functions,
	})
}

// Provision never returns the sealed password.
func (s *Server) Provision(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	userID := stringField(req, "user_id", c.ID)
	ident, err := s.svc.Provision(ctx, c, userID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{
		"user_id":           userID,
		"external_user_id":  ident.UserID,
		"external_username": ident.Username,
	})
}

func (s *Server) MintSSOURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	url, err := s.svc.MintSSOURL(ctx, c, stringField(req, "user_id", c.ID), stringField(req, "redirect", ""))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"url": url})
}

func (s *Server) CourseAccessURL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	url, err := s.svc.CourseAccessURL(ctx, c, stringField(req, "user_id", c.ID), stringField(req, "course_slug", ""))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{"url": url})
}

// ListAuditLogs reads optional action, limit and offset (numbers) from the request.
func (s *Server) ListAuditLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	entries, err := s.svc.ListAuditLogs(ctx, c, stringField(req, "action", ""),
		int32(fields["limit"].GetNumberValue()), int32(fields["offset"].GetNumberValue()))
	if err != nil {
		return nil, s.toStatus(err)
	}
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"user_id":    e.UserID,
			"action":     e.Action,
			"resource":   e.Resource,
			"ip":         e.IP,
			"metadata":   e.Metadata,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return newStruct(map[string]any{"entries": out})
}

// toStatus maps service errors to gRPC status codes. Unclassified errors are logged and
// returned as Internal without detail.
func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, bridge.ErrInvalidArgument), errors.Is(err, sso.ErrInvalidRedirect):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bridge.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, bridge.ErrNotFound), errors.Is(err, identityservice.ErrUserNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, catalogservice.ErrSyncInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, identityservice.ErrEmailConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, security.ErrSecretStoreSealed), errors.Is(err, sso.ErrNotProvisioned),
		errors.Is(err, security.ErrNoSSOSecret):
		return status.Error(codes.FailedPrecondition, err.Error())
	case lms.IsConnectivity(err):
		return status.Error(codes.Unavailable, "external platform unreachable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	}
	s.log.WithError(err).Error("bridge request failed")
	if lms.IsRemote(err) || lms.IsDecode(err) {
		return status.Error(codes.Unavailable, "external platform rejected the request")
	}
	return status.Error(codes.Internal, "internal error")
}

func stringField(req *structpb.Struct, key, fallback string) string {
	if v, ok := req.GetFields()[key]; ok {
		if s := v.GetStringValue(); s != "" {
			return s
		}
	}
	return fallback
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func syncResultFields(r *catalogdomain.SyncResult) map[string]any {
	failed := make([]any, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, map[string]any{"external_id": f.ExternalID, "name": f.Name, "reason": f.Reason})
	}
	collisions := make([]any, 0, len(r.Collisions))
	for _, c := range r.Collisions {
		collisions = append(collisions, map[string]any{
			"external_id":    c.ExternalID,
			"base":           c.Base,
			"assigned":       c.Assigned,
			"conflicts_with": c.ConflictsWith,
		})
	}
	return map[string]any{
		"kind":        string(r.Kind),
		"total":       r.Total,
		"created":     r.Created,
		"updated":     r.Updated,
		"unchanged":   r.Unchanged,
		"failed":      failed,
		"collisions":  collisions,
		"started_at":  r.StartedAt.UTC().Format(time.RFC3339),
		"finished_at": r.FinishedAt.UTC().Format(time.RFC3339),
	}
}
