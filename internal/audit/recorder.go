package audit

/*
Файл recorder.go — асинхронный сборщик compliance-трейла.

- Non-blocking: события уходят из hot path через буферизованный канал,
  задержки Postgres не влияют на время ответа движка.
- Batching: накопление в памяти и пакетная запись (bulk insert) по таймеру
  или при достижении лимита пачки.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток
  и делает финальный flush — записи не теряются при перезагрузке.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи трейла.
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Auditor — то, что видят сервисы движка: fire-and-forget запись.
type Auditor interface {
	Record(entry Entry)
}

const (
	bufferSize    = 10000
	batchSize     = 100
	flushInterval = 500 * time.Millisecond
)

type Recorder struct {
	ch     chan Entry
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт): Record после Stop не паникует
}

func NewRecorder(repo StorageInterface, logger *zap.Logger) *Recorder {
	return &Recorder{
		ch:     make(chan Entry, bufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit")),
	}
}

func (rec *Recorder) Start() {
	rec.wg.Add(1)
	go rec.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (rec *Recorder) Stop() {
	atomic.StoreInt32(&rec.isClosed, 1)

	// Крошечная пауза, чтобы конкурентные Record успели проскочить до close
	time.Sleep(10 * time.Millisecond)

	rec.logger.Info("stopping audit recorder: closing channel and flushing buffer...")
	close(rec.ch)
	rec.wg.Wait()
	rec.logger.Info("audit recorder stopped gracefully")
}

// Depth возвращает текущее заполнение буфера (для gauge-метрики).
func (rec *Recorder) Depth() int {
	return len(rec.ch)
}

// Record ставит запись в очередь. Никогда не блокирует вызывающего:
// при переполненном буфере запись сбрасывается в обычный лог (load shedding).
func (rec *Recorder) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if atomic.LoadInt32(&rec.isClosed) == 1 {
		rec.logger.Warn("audit entry dropped: recorder is stopping",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
		)
		return
	}

	select {
	case rec.ch <- entry:
	default:
		rec.logger.Error("audit_buffer_overflow",
			zap.String("user_id", entry.UserID),
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
		)
	}
}

func (rec *Recorder) worker() {
	defer rec.wg.Done()

	batch := make([]Entry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush уже может быть закрыт
		if err := rec.repo.WriteBatch(context.Background(), batch); err != nil {
			rec.logger.Error("audit flush failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-rec.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер уже вычитал остаток очереди,
				// остается финальный flush и выход.
				flush()
				rec.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
