package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

// ClientConfig locates the Qdrant gRPC endpoint.
type ClientConfig struct {
	Host string
	// Port is the gRPC port, 6334 by default; 6333 is the REST API.
	Port           int
	UseTLS         bool
	APIKey         string
	MaxMessageSize int
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig targets a local Qdrant.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 32 << 20,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 15 * time.Second,
	}
}

// normalize fills zero fields from DefaultClientConfig and validates.
func (c *ClientConfig) normalize() error {
	d := DefaultClientConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("qdrant port %d out of range", c.Port)
	}
	return nil
}

// GRPCClient is a Client backed by the official Go client. It does not
// retry; the pipeline's retry policy wraps every call.
type GRPCClient struct {
	qc      *qdrant.Client
	timeout time.Duration
	logger  *logging.Logger
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient connects and fails unless Qdrant answers a health check
// within the dial timeout.
func NewGRPCClient(ctx context.Context, cfg *ClientConfig, logger *logging.Logger) (*GRPCClient, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
		grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
	)}
	if !cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		UseTLS:      cfg.UseTLS,
		APIKey:      cfg.APIKey,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	c := &GRPCClient{qc: qc, timeout: cfg.RequestTimeout, logger: logger.Named("qdrant")}
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := c.Health(dctx); err != nil {
		_ = qc.Close()
		return nil, fmt.Errorf("qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	c.logger.Info(ctx, "connected to qdrant", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return c, nil
}

func (c *GRPCClient) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := c.call(ctx)
	defer cancel()
	if _, err := c.qc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// CreateCollection creates a cosine-distance collection.
func (c *GRPCClient) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	ctx, cancel := c.call(ctx)
	defer cancel()
	err := c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	c.logger.Info(ctx, "collection created", zap.String("collection", name), zap.Uint64("vector_size", vectorSize))
	return nil
}

func (c *GRPCClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	if _, err := c.qc.GetCollectionInfo(ctx, name); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("inspecting collection %s: %w", name, err)
	}
	return true, nil
}

// Upsert writes points and waits until they are searchable.
func (c *GRPCClient) Upsert(ctx context.Context, collection string, points []*Point) error {
	ctx, cancel := c.call(ctx)
	defer cancel()
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toPayload(p.Payload),
		})
	}
	_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search returns the limit nearest points with their payloads.
func (c *GRPCClient) Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	hits, err := c.qc.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	out := make([]*ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, &ScoredPoint{
			Point: Point{ID: pointID(h.GetId()), Payload: fromPayload(h.GetPayload())},
			Score: h.GetScore(),
		})
	}
	return out, nil
}

func (c *GRPCClient) Close() error {
	return c.qc.Close()
}

func toFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	out := &qdrant.Filter{}
	for _, cond := range f.Must {
		switch {
		case len(cond.AnyOf) > 0:
			out.Must = append(out.Must, qdrant.NewMatchKeywords(cond.Field, cond.AnyOf...))
		case cond.Range != nil:
			out.Must = append(out.Must, qdrant.NewRange(cond.Field, &qdrant.Range{Gte: cond.Range.Gte, Lte: cond.Range.Lte}))
		}
	}
	return out
}

func toPayload(m map[string]any) map[string]*qdrant.Value {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *qdrant.Value {
	switch x := v.(type) {
	case nil:
		return qdrant.NewValueNull()
	case string:
		return qdrant.NewValueString(x)
	case bool:
		return qdrant.NewValueBool(x)
	case int:
		return qdrant.NewValueInt(int64(x))
	case int64:
		return qdrant.NewValueInt(x)
	case float32:
		return qdrant.NewValueDouble(float64(x))
	case float64:
		return qdrant.NewValueDouble(x)
	case []string:
		items := make([]*qdrant.Value, len(x))
		for i, s := range x {
			items[i] = qdrant.NewValueString(s)
		}
		return qdrant.NewValueFromList(items...)
	case []any:
		items := make([]*qdrant.Value, len(x))
		for i, item := range x {
			items[i] = toValue(item)
		}
		return qdrant.NewValueFromList(items...)
	case map[string]any:
		return qdrant.NewValueStruct(&qdrant.Struct{Fields: toPayload(x)})
	default:
		return qdrant.NewValueString(fmt.Sprint(x))
	}
}

func fromPayload(m map[string]*qdrant.Value) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch x := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return x.StringValue
	case *qdrant.Value_IntegerValue:
		return x.IntegerValue
	case *qdrant.Value_DoubleValue:
		return x.DoubleValue
	case *qdrant.Value_BoolValue:
		return x.BoolValue
	case *qdrant.Value_ListValue:
		items := x.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = fromValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return fromPayload(x.StructValue.GetFields())
	}
	return nil
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	if id.GetPointIdOptions() == nil {
		return ""
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
