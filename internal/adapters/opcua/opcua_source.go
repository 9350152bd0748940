// Package opcua adapts an OPC UA subscription into a ports.SampleSource:
// monitored node values are assembled into fixed-arity rows that a stream's
// ingestion task pulls one at a time.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session and
// the nodes that make up one stream's channels.
type Config struct {
	Name             string        `yaml:"name"`
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	QueueSize        int           `yaml:"queue_size"`

	// TimeCorrection is the fixed offset in seconds added to server
	// timestamps to approximate the local clock.
	TimeCorrection float64 `yaml:"time_correction"`

	// Nodes are ordered; node i feeds channel i of every row.
	Nodes []NodeConfig `yaml:"nodes"`
}

// NodeConfig defines one monitored node/channel.
type NodeConfig struct {
	NodeID  string `yaml:"node_id"`
	Channel string `yaml:"channel"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "CortexFlow Edge"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Name == "" {
		c.Name = c.Endpoint
	}
	for i := range c.Nodes {
		if c.Nodes[i].Channel == "" {
			c.Nodes[i].Channel = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	return nil
}

// Source implements ports.SampleSource over one subscription. Rows carry the
// latest known value of every channel, stamped with the server timestamp of
// the notification that produced them.
type Source struct {
	cfg    Config
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handleMap map[uint32]int // client handle → channel index
	rowCh     chan domain.Row
	closedCh  chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	current []float64
	started bool
}

func NewSource(cfg Config) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		cfg:      cfg,
		current:  make([]float64, len(cfg.Nodes)),
		rowCh:    make(chan domain.Row, cfg.QueueSize),
		closedCh: make(chan struct{}),
	}, nil
}

// Arity returns the channel count of rows this source emits.
func (s *Source) Arity() int { return len(s.cfg.Nodes) }

// Start opens the session, monitors every configured node, and begins
// assembling rows. It must be called before the first Pull.
func (s *Source) Start(ctx context.Context) error {
	// The flag flips inside the same critical section as the check, so a
	// second Start can never slip through while the first is still
	// dialing. Error paths flip it back.
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("opcua source %q already started", s.cfg.Name)
	}
	s.started = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		cancel()
		s.abortStart()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		s.abortStart()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(s.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: s.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]int, len(s.cfg.Nodes))
	for i, node := range s.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if s.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(s.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed", node.NodeID)
		}
		handleMap[handle] = i
	}

	s.mu.Lock()
	s.client = client
	s.sub = sub
	s.cancel = cancel
	s.handleMap = handleMap
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(runCtx, notifyCh)
	return nil
}

// Pull blocks until the next assembled row, ctx cancellation, or Close.
func (s *Source) Pull(ctx context.Context) ([]float64, float64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-s.closedCh:
		return nil, 0, fmt.Errorf("opcua source %q closed", s.cfg.Name)
	case row := <-s.rowCh:
		return row.Values, row.Timestamp, nil
	}
}

// TimeCorrection returns the configured fixed offset. Server timestamps are
// already wall-clock-ish; drift correction beyond this knob is out of scope.
func (s *Source) TimeCorrection(context.Context) (float64, error) {
	return s.cfg.TimeCorrection, nil
}

func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		sub := s.sub
		client := s.client
		s.started = false
		s.cancel = nil
		s.sub = nil
		s.client = nil
		s.mu.Unlock()

		close(s.closedCh)
		if cancel != nil {
			cancel()
		}

		ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ctxCancel()

		if sub != nil {
			if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
				err = errors.Join(err, e)
			}
		}
		if client != nil {
			if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
				err = errors.Join(err, e)
			}
		}
		s.wg.Wait()
	})
	return err
}

func (s *Source) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				log.Printf("opcua: notification error: %v", notif.Error)
				continue
			}
			s.processNotification(notif.Value)
		}
	}
}

// processNotification updates the per-channel latest values and emits one row
// per data change, stamped with the change's server timestamp.
func (s *Source) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, item := range data.MonitoredItems {
		idx, ok := s.handleMap[item.ClientHandle]
		if !ok {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			log.Printf("opcua: skipping channel %d, unsupported type %T", idx, item.Value.Value)
			continue
		}

		ts := item.Value.ServerTimestamp
		if ts.IsZero() {
			ts = item.Value.SourceTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}

		s.mu.Lock()
		s.current[idx] = fv
		values := make([]float64, len(s.current))
		copy(values, s.current)
		s.mu.Unlock()

		row := domain.Row{
			Values:    values,
			Timestamp: float64(ts.UnixNano()) / float64(time.Second),
		}
		select {
		case <-s.closedCh:
			return
		case s.rowCh <- row:
		default:
			// Queue full: the consumer is behind, drop the oldest so
			// fresh data keeps flowing.
			select {
			case <-s.rowCh:
			default:
			}
			select {
			case s.rowCh <- row:
			default:
			}
		}
	}
}

func (s *Source) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (s *Source) abortStart() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *Source) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	s.abortStart()
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.SampleSource = (*Source)(nil)
