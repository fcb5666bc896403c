package modbus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/catalog"
	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"go.uber.org/zap"
)

// Sink stores polled values.
type Sink interface {
	Create(ctx context.Context, in readings.NewReading, source string) (*readings.Accepted, error)
}

type target struct {
	sensorID   int64
	machine    string
	sensorType string
	source     catalog.ModbusSource
	quantity   uint16
	interval   time.Duration
	client     *Client
	failing    bool
}

// Poller reads every Modbus-bound sensor on its own interval and feeds the
// values into the reading pipeline. Sensors on the same device share one
// connection.
type Poller struct {
	sink    Sink
	logger  *zap.Logger
	clients map[string]*Client
	targets []*target

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(bindings []catalog.Binding, sink Sink, cfg config.ModbusConfig, logger *zap.Logger) (*Poller, error) {
	p := &Poller{
		sink:    sink,
		logger:  logger,
		clients: make(map[string]*Client),
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	for _, b := range bindings {
		if b.Modbus == nil {
			continue
		}
		src := *b.Modbus

		quantity, err := RegisterCount(src.DataType)
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", b.SensorID, err)
		}

		interval := src.PollInterval
		if interval <= 0 {
			interval = cfg.DefaultPollInterval
		}
		if interval <= 0 {
			interval = catalog.DefaultPollInterval
		}

		address := net.JoinHostPort(src.Host, strconv.Itoa(src.Port))
		client, ok := p.clients[address]
		if !ok {
			client = NewClient(address, timeout)
			p.clients[address] = client
		}

		p.targets = append(p.targets, &target{
			sensorID:   b.SensorID,
			machine:    b.MachineName,
			sensorType: b.SensorType,
			source:     src,
			quantity:   quantity,
			interval:   interval,
			client:     client,
		})
	}

	return p, nil
}

// Len is the number of polled sensors.
func (p *Poller) Len() int {
	return len(p.targets)
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for _, t := range p.targets {
		p.wg.Add(1)
		go p.pollLoop(ctx, t)
	}

	p.logger.Info("Modbus poller started",
		zap.Int("sensors", len(p.targets)),
		zap.Int("devices", len(p.clients)))
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	for _, c := range p.clients {
		c.Close()
	}

	p.logger.Info("Modbus poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) pollLoop(ctx context.Context, t *target) {
	defer p.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx, t)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, t *target) {
	readCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	err := p.pollOnce(readCtx, t)
	if err == nil {
		if t.failing {
			p.logger.Info("Modbus sensor recovered",
				zap.Int64("sensor_id", t.sensorID),
				zap.String("device", t.client.Address()))
			t.failing = false
		}
		return
	}
	if ctx.Err() != nil {
		// shutting down
		return
	}

	metrics.ModbusPollErrors.WithLabelValues(strconv.FormatInt(t.sensorID, 10)).Inc()
	// log the first failure of a streak only
	if !t.failing {
		p.logger.Warn("Modbus poll failed",
			zap.Int64("sensor_id", t.sensorID),
			zap.String("machine", t.machine),
			zap.String("sensor_type", t.sensorType),
			zap.String("device", t.client.Address()),
			zap.Error(err))
		t.failing = true
	}
}

func (p *Poller) pollOnce(ctx context.Context, t *target) error {
	regs, err := t.client.ReadRegisters(ctx, t.source.UnitID, t.source.RegisterType, t.source.Register, t.quantity)
	if err != nil {
		return err
	}

	value, err := Decode(regs, t.source.DataType, t.source.Scale, t.source.Offset)
	if err != nil {
		return err
	}

	_, err = p.sink.Create(ctx, readings.NewReading{
		SensorID:  t.sensorID,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, readings.SourceModbus)
	return err
}
