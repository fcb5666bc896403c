package readings

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ingestion sources, used as metric labels.
const (
	SourceREST   = "rest"
	SourceGRPC   = "grpc"
	SourceMQTT   = "mqtt"
	SourceModbus = "modbus"
)

type Store interface {
	GetSensor(ctx context.Context, id int64) (*storage.Sensor, error)
	CreateReading(ctx context.Context, r *storage.Reading) error
	CreateReadings(ctx context.Context, readings []*storage.Reading) error
	GetReading(ctx context.Context, id int64) (*storage.Reading, error)
	UpdateReading(ctx context.Context, r *storage.Reading) error
	DeleteReading(ctx context.Context, id int64) error
	FindReadings(ctx context.Context, f storage.ReadingFilter, newestFirst bool) ([]*storage.Reading, error)
	ReadingsBySensorPage(ctx context.Context, sensorID int64, offset, limit int) ([]*storage.Reading, int64, error)
	AverageReading(ctx context.Context, sensorID int64, from, to *time.Time) (*float64, error)
	OutOfThresholdReadings(ctx context.Context, sensorID int64) ([]*storage.Reading, error)
	CountReadings(ctx context.Context, sensorID int64) (int64, error)
	CountOutOfThreshold(ctx context.Context, sensorID int64) (int64, error)
	LatestReadingsByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.SensorReading, error)
}

// Evaluator turns breaching readings into alerts.
type Evaluator interface {
	Submit(sensor *storage.Sensor, reading *storage.Reading) *monitoring.Breach
}

// Sink is told about every accepted reading.
type Sink interface {
	ReadingAccepted(ctx context.Context, sensor *storage.Sensor, reading *storage.Reading, breach *monitoring.Breach)
}

// SnapshotReader serves the cached latest value of a sensor.
type SnapshotReader interface {
	Snapshot(ctx context.Context, sensorID int64) (*storage.Reading, error)
}

// NewReading is one incoming measurement. A zero Timestamp means now.
type NewReading struct {
	SensorID  int64     `json:"sensor_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Accepted is a stored reading with its threshold verdict.
type Accepted struct {
	*storage.Reading
	OutOfThreshold bool               `json:"out_of_threshold"`
	Breach         *monitoring.Breach `json:"breach,omitempty"`
}

type Service struct {
	store     Store
	evaluator Evaluator
	sinks     []Sink
	snapshots SnapshotReader
	logger    *zap.Logger
}

func NewService(store Store, evaluator Evaluator, logger *zap.Logger, sinks ...Sink) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		sinks:     sinks,
		logger:    logger,
	}
}

// AddSink registers a reading subscriber. Call before ingestion starts.
func (s *Service) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

func (s *Service) UseSnapshots(r SnapshotReader) {
	s.snapshots = r
}

func (s *Service) sensor(ctx context.Context, id int64) (*storage.Sensor, error) {
	sensor, err := s.store.GetSensor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sensor %d: %w", id, err)
	}
	return sensor, nil
}

// Create stores a reading, checks it against the sensor thresholds and feeds
// the alert pipeline and live subscribers.
func (s *Service) Create(ctx context.Context, in NewReading, source string) (*Accepted, error) {
	sensor, err := s.sensor(ctx, in.SensorID)
	if err != nil {
		return nil, err
	}

	r := &storage.Reading{SensorID: in.SensorID, Value: in.Value, Timestamp: in.Timestamp}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if err := s.store.CreateReading(ctx, r); err != nil {
		return nil, err
	}

	return s.accept(ctx, sensor, r, source), nil
}

// CreateBatch stores all readings in one transaction. Unknown sensors reject
// the whole batch.
func (s *Service) CreateBatch(ctx context.Context, in []NewReading, source string) ([]*Accepted, error) {
	if len(in) == 0 {
		return []*Accepted{}, nil
	}

	sensors := make(map[int64]*storage.Sensor)
	batch := make([]*storage.Reading, len(in))
	now := time.Now().UTC()
	for i, nr := range in {
		if _, ok := sensors[nr.SensorID]; !ok {
			sensor, err := s.sensor(ctx, nr.SensorID)
			if err != nil {
				return nil, err
			}
			sensors[nr.SensorID] = sensor
		}
		batch[i] = &storage.Reading{SensorID: nr.SensorID, Value: nr.Value, Timestamp: nr.Timestamp}
		if batch[i].Timestamp.IsZero() {
			batch[i].Timestamp = now
		}
	}

	if err := s.store.CreateReadings(ctx, batch); err != nil {
		return nil, err
	}

	out := make([]*Accepted, len(batch))
	for i, r := range batch {
		out[i] = s.accept(ctx, sensors[r.SensorID], r, source)
	}
	return out, nil
}

func (s *Service) accept(ctx context.Context, sensor *storage.Sensor, r *storage.Reading, source string) *Accepted {
	metrics.ReadingsIngested.WithLabelValues(source).Inc()

	breach := s.evaluator.Submit(sensor, r)
	for _, sink := range s.sinks {
		sink.ReadingAccepted(ctx, sensor, r, breach)
	}

	return &Accepted{Reading: r, OutOfThreshold: breach != nil, Breach: breach}
}

// Update changes value and timestamp of a reading and re-checks thresholds.
func (s *Service) Update(ctx context.Context, id int64, in NewReading) (*Accepted, error) {
	existing, err := s.store.GetReading(ctx, id)
	if err != nil {
		return nil, err
	}
	sensorID := existing.SensorID
	if in.SensorID != 0 {
		sensorID = in.SensorID
	}
	sensor, err := s.sensor(ctx, sensorID)
	if err != nil {
		return nil, err
	}

	existing.SensorID = sensorID
	existing.Value = in.Value
	if !in.Timestamp.IsZero() {
		existing.Timestamp = in.Timestamp
	}
	if err := s.store.UpdateReading(ctx, existing); err != nil {
		return nil, err
	}

	breach := s.evaluator.Submit(sensor, existing)
	return &Accepted{Reading: existing, OutOfThreshold: breach != nil, Breach: breach}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*storage.Reading, error) {
	return s.store.GetReading(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteReading(ctx, id)
}

// List applies an arbitrary filter, oldest first.
func (s *Service) List(ctx context.Context, f storage.ReadingFilter) ([]*storage.Reading, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, fmt.Errorf("%w: from is after to", types.ErrInvalidInput)
	}
	if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
		return nil, fmt.Errorf("%w: min is above max", types.ErrInvalidInput)
	}
	return s.store.FindReadings(ctx, f, false)
}

func (s *Service) BySensor(ctx context.Context, sensorID int64) ([]*storage.Reading, error) {
	return s.List(ctx, storage.ReadingFilter{SensorID: &sensorID})
}

// BySensorPaged returns readings of a sensor newest first.
func (s *Service) BySensorPaged(ctx context.Context, sensorID int64, req types.PageRequest) (types.Page[*storage.Reading], error) {
	req = req.Normalize()
	items, total, err := s.store.ReadingsBySensorPage(ctx, sensorID, req.Offset(), req.Size)
	if err != nil {
		return types.Page[*storage.Reading]{}, err
	}
	return types.NewPage(items, req, total), nil
}

func (s *Service) ByDateRange(ctx context.Context, from, to time.Time) ([]*storage.Reading, error) {
	return s.List(ctx, storage.ReadingFilter{From: &from, To: &to})
}

func (s *Service) BySensorAndDateRange(ctx context.Context, sensorID int64, from, to time.Time) ([]*storage.Reading, error) {
	return s.List(ctx, storage.ReadingFilter{SensorID: &sensorID, From: &from, To: &to})
}

func (s *Service) ByValueRange(ctx context.Context, min, max float64) ([]*storage.Reading, error) {
	return s.List(ctx, storage.ReadingFilter{MinValue: &min, MaxValue: &max})
}

// LatestBySensor returns up to limit readings, newest first.
func (s *Service) LatestBySensor(ctx context.Context, sensorID int64, limit int) ([]*storage.Reading, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.FindReadings(ctx, storage.ReadingFilter{SensorID: &sensorID, Limit: limit}, true)
}

func (s *Service) LatestSingle(ctx context.Context, sensorID int64) (*storage.Reading, error) {
	latest, err := s.LatestBySensor(ctx, sensorID, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("no reading for sensor %d: %w", sensorID, types.ErrNotFound)
	}
	return latest[0], nil
}

// Live returns the freshest known value, from the snapshot cache when it
// has one.
func (s *Service) Live(ctx context.Context, sensorID int64) (*storage.Reading, error) {
	if s.snapshots != nil {
		r, err := s.snapshots.Snapshot(ctx, sensorID)
		if err != nil {
			s.logger.Debug("Snapshot lookup failed", zap.Int64("sensor_id", sensorID), zap.Error(err))
		} else if r != nil {
			return r, nil
		}
	}
	return s.LatestSingle(ctx, sensorID)
}

// Average is nil when the sensor has no readings.
func (s *Service) Average(ctx context.Context, sensorID int64) (*float64, error) {
	return s.store.AverageReading(ctx, sensorID, nil, nil)
}

func (s *Service) AverageInRange(ctx context.Context, sensorID int64, from, to time.Time) (*float64, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", types.ErrInvalidInput)
	}
	return s.store.AverageReading(ctx, sensorID, &from, &to)
}

func (s *Service) OutOfThreshold(ctx context.Context, sensorID int64) ([]*storage.Reading, error) {
	return s.store.OutOfThresholdReadings(ctx, sensorID)
}

func (s *Service) Count(ctx context.Context, sensorID int64) (int64, error) {
	return s.store.CountReadings(ctx, sensorID)
}

func (s *Service) CountOutOfThreshold(ctx context.Context, sensorID int64) (int64, error) {
	return s.store.CountOutOfThreshold(ctx, sensorID)
}

// IsInThreshold re-checks a stored reading against its sensor's current
// thresholds.
func (s *Service) IsInThreshold(ctx context.Context, readingID int64) (bool, error) {
	r, err := s.store.GetReading(ctx, readingID)
	if err != nil {
		return false, err
	}
	sensor, err := s.sensor(ctx, r.SensorID)
	if err != nil {
		return false, err
	}
	return !monitoring.OutOfThreshold(sensor, r.Value), nil
}

func (s *Service) LatestByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.SensorReading, error) {
	return s.store.LatestReadingsByMachine(ctx, machineID)
}
