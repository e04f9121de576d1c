package backend

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// gRPC method names of the generation sidecar. The sidecar owns the schema;
// this driver speaks struct-typed messages so the two can evolve
// independently without regenerating stubs on this side.
const (
	methodExecute = "/taskpilot.v1.GenerationService/Execute"
	methodProbe   = "/taskpilot.v1.GenerationService/Probe"
)

// GRPCBackend implements Backend by calling a generation sidecar service.
type GRPCBackend struct {
	conn *grpc.ClientConn
	// Model is the default model when a call carries no hint of its own.
	Model string
}

// NewGRPCBackend connects to the sidecar at addr.
func NewGRPCBackend(addr string) (*GRPCBackend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation service at %s: %w", addr, err)
	}
	return &GRPCBackend{conn: conn}, nil
}

// Execute sends one generation request and maps the reply to a Response.
func (b *GRPCBackend) Execute(ctx context.Context, prompt string, opts Options) (*models.Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = b.Model
	}
	req, err := structpb.NewStruct(map[string]any{
		"prompt":               prompt,
		"model":                model,
		"work_dir":             opts.WorkDir,
		"allowed_tools":        toAnySlice(opts.AllowedToolset),
		"resume_session_token": opts.ResumeSessionToken,
	})
	if err != nil {
		return nil, NewError(KindInternal, fmt.Errorf("failed to build request: %w", err))
	}

	reply := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, methodExecute, req, reply); err != nil {
		return nil, mapGRPCError(err)
	}

	fields := reply.AsMap()
	resp := &models.Response{
		Text:                stringField(fields, "text"),
		ExitStatus:          intField(fields, "exit_status"),
		FilesTouched:        stringSliceField(fields, "files_touched"),
		CommandsRun:         stringSliceField(fields, "commands_run"),
		ToolsInvoked:        stringSliceField(fields, "tools_invoked"),
		BackendSessionToken: stringField(fields, "session_token"),
	}
	if cost, ok := fields["cost_estimate"].(float64); ok {
		resp.CostEstimate = &cost
	}
	resp.HasError = resp.ExitStatus != 0
	return resp, nil
}

// ProbeReadiness asks the sidecar for its availability and auth state.
func (b *GRPCBackend) ProbeReadiness(ctx context.Context) (*ReadinessStatus, error) {
	req, _ := structpb.NewStruct(nil)
	reply := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, methodProbe, req, reply); err != nil {
		st, ok := status.FromError(err)
		if ok && st.Code() == codes.Unavailable {
			return &ReadinessStatus{
				Issues: []string{"generation service unreachable: " + st.Message()},
			}, nil
		}
		return nil, mapGRPCError(err)
	}
	fields := reply.AsMap()
	rs := &ReadinessStatus{
		Installed:  true,
		AuthReady:  boolField(fields, "auth_ready"),
		CanProceed: boolField(fields, "can_proceed"),
		Degraded:   boolField(fields, "degraded"),
		Issues:     stringSliceField(fields, "issues"),
	}
	if len(rs.Issues) == 0 {
		rs.Issues = nil
	}
	return rs, nil
}

// Close releases the gRPC connection.
func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

// mapGRPCError maps gRPC status codes onto the backend error taxonomy.
func mapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return NewError(KindTransport, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return NewError(KindAuthRequired, err)
	case codes.ResourceExhausted:
		return NewError(KindQuotaExhausted, err)
	case codes.DeadlineExceeded, codes.Canceled:
		return NewError(KindTimeout, err)
	case codes.Unavailable:
		return NewError(KindNetwork, err)
	case codes.Internal, codes.Unknown:
		return NewError(KindInternal, err)
	default:
		return NewError(KindTransport, err)
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intField(m map[string]any, key string) int {
	// structpb decodes all numbers as float64.
	f, _ := m[key].(float64)
	return int(f)
}

func stringSliceField(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
