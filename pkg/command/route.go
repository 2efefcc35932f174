package command

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/plfm/plfm/pkg/quota"
	"github.com/plfm/plfm/pkg/types"
)

// NormalizeHostname lowercases and strips the trailing dot. Stored and
// matched routes always use this form.
func NormalizeHostname(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// CreateRouteInput maps (hostname, port) to one env process
type CreateRouteInput struct {
	EnvID               string `json:"envId"`
	Hostname            string `json:"hostname"`
	ListenPort          int    `json:"listenPort"`
	BackendProcessType  string `json:"backendProcessType"`
	BackendPort         int    `json:"backendPort"`
	ProtocolHint        string `json:"protocolHint"`
	ProxyProtocol       string `json:"proxyProtocol"`
	AllowNonTLSFallback bool   `json:"allowNonTlsFallback"`
}

// CreateRoute appends route.created. The unique partial index on
// (hostname, listen_port) is the final arbiter under races; the view
// check here catches the common case early.
func (s *Service) CreateRoute(ctx context.Context, caller *Caller, in *CreateRouteInput) (*Receipt, error) {
	hostname := NormalizeHostname(in.Hostname)
	if in.EnvID == "" || hostname == "" {
		return nil, fmt.Errorf("envId and hostname required: %w", types.ErrBadRequest)
	}
	if in.ListenPort <= 0 || in.ListenPort > 65535 {
		return nil, fmt.Errorf("listenPort out of range: %w", types.ErrBadRequest)
	}
	if in.BackendProcessType == "" || in.BackendPort <= 0 || in.BackendPort > 65535 {
		return nil, fmt.Errorf("backendProcessType and backendPort required: %w", types.ErrBadRequest)
	}
	switch in.ProtocolHint {
	case "", string(types.ProtocolTLSPassthrough), string(types.ProtocolTCPRaw):
	default:
		return nil, fmt.Errorf("invalid protocolHint %q: %w", in.ProtocolHint, types.ErrBadRequest)
	}
	switch in.ProxyProtocol {
	case "", string(types.ProxyProtocolOff), string(types.ProxyProtocolV2):
	default:
		return nil, fmt.Errorf("invalid proxyProtocol %q: %w", in.ProxyProtocol, types.ErrBadRequest)
	}

	env, err := s.views.GetEnv(ctx, in.EnvID)
	if err != nil {
		return nil, err
	}
	taken, err := s.views.RouteExists(ctx, hostname, in.ListenPort)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("route %s:%d already claimed: %w", hostname, in.ListenPort, types.ErrConflict)
	}

	routeID := uuid.New().String()
	return s.run(ctx, caller, "routes.create", []string{"route_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, env.OrgID, quota.DimRoutes, 1); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateRoute,
			AggregateID:   routeID,
			EventType:     "route.created",
			OrgID:         env.OrgID,
			AppID:         env.AppID,
			EnvID:         in.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"orgId":               env.OrgID,
				"appId":               env.AppID,
				"envId":               in.EnvID,
				"hostname":            hostname,
				"listenPort":          in.ListenPort,
				"backendProcessType":  in.BackendProcessType,
				"backendPort":         in.BackendPort,
				"protocolHint":        in.ProtocolHint,
				"proxyProtocol":       in.ProxyProtocol,
				"allowNonTlsFallback": in.AllowNonTLSFallback,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "route",
			IDs:     map[string]string{"envId": in.EnvID, "routeId": routeID},
			EventID: eventID,
		}, nil
	})
}

// UpdateRouteInput changes a route's backend target
type UpdateRouteInput struct {
	BackendProcessType string `json:"backendProcessType"`
	BackendPort        int    `json:"backendPort"`
}

// UpdateRoute appends route.updated
func (s *Service) UpdateRoute(ctx context.Context, caller *Caller, routeID string, in *UpdateRouteInput) (*Receipt, error) {
	if in.BackendProcessType == "" && in.BackendPort == 0 {
		return nil, fmt.Errorf("nothing to update: %w", types.ErrBadRequest)
	}
	if in.BackendPort < 0 || in.BackendPort > 65535 {
		return nil, fmt.Errorf("backendPort out of range: %w", types.ErrBadRequest)
	}
	route, err := s.views.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "routes.update", []string{"route_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateRoute,
			AggregateID:   routeID,
			EventType:     "route.updated",
			OrgID:         route.OrgID,
			AppID:         route.AppID,
			EnvID:         route.EnvID,
			Payload: payloadJSON(map[string]interface{}{
				"backendProcessType": in.BackendProcessType,
				"backendPort":        in.BackendPort,
			}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "route",
			IDs:     map[string]string{"routeId": routeID},
			EventID: eventID,
		}, nil
	})
}

// DeleteRoute appends route.deleted, freeing (hostname, port)
func (s *Service) DeleteRoute(ctx context.Context, caller *Caller, routeID string) (*Receipt, error) {
	route, err := s.views.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, caller, "routes.delete", []string{"route_view"}, func(ctx context.Context, tx *sql.Tx) (*Receipt, error) {
		if err := s.quota.ReserveTx(ctx, tx, route.OrgID, quota.DimRoutes, -1); err != nil {
			return nil, err
		}
		eventID, err := s.append(ctx, tx, caller, &types.Event{
			AggregateType: types.AggregateRoute,
			AggregateID:   routeID,
			EventType:     "route.deleted",
			OrgID:         route.OrgID,
			AppID:         route.AppID,
			EnvID:         route.EnvID,
			Payload:       payloadJSON(map[string]interface{}{}),
		})
		if err != nil {
			return nil, err
		}
		return &Receipt{
			Kind:    "route",
			IDs:     map[string]string{"routeId": routeID},
			EventID: eventID,
		}, nil
	})
}
