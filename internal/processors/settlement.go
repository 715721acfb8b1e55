package processors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/refund"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// MaxSettlementAttempts is how many failed runs a job gets before it is
// moved to the dead-letter list.
const MaxSettlementAttempts = 5

type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, job *api.SettlementJob) error
	DequeueSettlement(ctx context.Context, timeout time.Duration) (*api.SettlementJob, error)
	DeadLetterSettlement(ctx context.Context, job *api.SettlementJob) error
}

// SettlementProcessor drains the settlement queue with a fixed pool of
// workers. Jobs for a device that is already being settled go back on the
// queue. Failed jobs are retried with backoff until MaxSettlementAttempts,
// then dead-lettered.
type SettlementProcessor struct {
	queue       SettlementQueue
	settler     refund.Settler
	WorkerCount int
	RetryDelay  time.Duration
	wg          sync.WaitGroup
	stopChan    chan struct{}
}

func NewSettlementProcessor(queue SettlementQueue, settler refund.Settler, workerCount int) *SettlementProcessor {
	return &SettlementProcessor{
		queue:       queue,
		settler:     settler,
		WorkerCount: workerCount,
		RetryDelay:  200 * time.Millisecond,
		stopChan:    make(chan struct{}),
	}
}

func (p *SettlementProcessor) Start(ctx context.Context) {
	log.Printf("Starting %d settlement workers", p.WorkerCount)

	for i := 0; i < p.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *SettlementProcessor) Stop() {
	log.Println("Stopping settlement workers...")
	close(p.stopChan)
	p.wg.Wait()
	log.Println("All settlement workers stopped")
}

func (p *SettlementProcessor) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	log.Printf("Worker %d started", workerID)

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
			if err := p.processNext(ctx); err != nil {
				if err != redis.Nil {
					log.WithField("worker", workerID).Errorf("Settlement error: %v", err)
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
}

func (p *SettlementProcessor) processNext(ctx context.Context) error {
	job, err := p.queue.DequeueSettlement(ctx, time.Second)
	if err != nil {
		return err
	}

	if job == nil {
		return nil
	}

	return p.process(ctx, job)
}

func (p *SettlementProcessor) process(ctx context.Context, job *api.SettlementJob) error {
	logger := log.WithFields(log.Fields{"job_id": job.ID, "device_id": job.DeviceID})

	res, err := p.settler.Settle(ctx, job.DeviceID)
	switch {
	case errors.Is(err, tools.ErrLocked):
		logger.Info("Device busy, requeueing settlement")
		time.Sleep(50 * time.Millisecond)
		return p.queue.EnqueueSettlement(ctx, job)
	case errors.Is(err, tools.ErrNotFound):
		logger.Warn("Dropping settlement for unknown device")
		return nil
	case err != nil:
		return p.retry(ctx, job, err, logger)
	}

	logger.WithField("outcome", res.Outcome).Info("Settlement processed")
	return nil
}

// retry puts a failed job back on the queue after a linear backoff. A
// dispatched refund whose ledger save failed is committed by the next run.
func (p *SettlementProcessor) retry(ctx context.Context, job *api.SettlementJob, cause error, logger *log.Entry) error {
	job.Attempts++
	job.LastErr = cause.Error()
	logger = logger.WithField("attempts", job.Attempts)

	if job.Attempts >= MaxSettlementAttempts {
		logger.Errorf("Settlement failed, moving to dead letter: %v", cause)
		return p.queue.DeadLetterSettlement(ctx, job)
	}

	logger.Warnf("Settlement failed, retrying: %v", cause)
	select {
	case <-time.After(time.Duration(job.Attempts) * p.RetryDelay):
	case <-ctx.Done():
	}
	return p.queue.EnqueueSettlement(context.WithoutCancel(ctx), job)
}
