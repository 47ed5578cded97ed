package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/worldline/internal/config"
	"github.com/suPer8Hu/worldline/internal/memory"
	"github.com/suPer8Hu/worldline/internal/mqjobs"
	"github.com/suPer8Hu/worldline/internal/store"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DBURL)
	if err != nil {
		log.Fatalf("store open: %v", err)
	}

	var collab memory.Collaborator = memory.NoopCollaborator{}
	if cfg.MemoryMode != "off" {
		collab = memory.NewDeterministicCollaborator(store.NewMemoryRepo(db), cfg.EmbedDim)
	}

	messages := store.NewMessageRepo(db, nil)

	concurrency := workerConcurrency()

	consumer, err := mqjobs.NewConsumer(cfg.RabbitURL, cfg.MemoryIndexQueue, concurrency)
	if err != nil {
		log.Fatalf("mqjobs consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("memoryworker started queue=%s concurrency=%d", cfg.MemoryIndexQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				job, err := mqjobs.DecodeJob(d.Body)
				if err != nil || job.MessageID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, messages, collab, job); err != nil {
					log.Printf("worker=%d job=%s failed cost=%s err=%v", workerID, job.MessageID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, job.MessageID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("memoryworker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-consumer.Deliveries():
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, messages *store.MessageRepo, collab memory.Collaborator, job mqjobs.MemoryIndexJob) error {
	jobStart := time.Now()

	msg, err := messages.GetByID(job.MessageID)
	if err != nil {
		return err
	}

	if err := collab.OnMessagePersisted(ctx, job.SessionID, job.BranchID, *msg); err != nil {
		return err
	}

	total := time.Since(jobStart)
	if total > 2*time.Second {
		log.Printf("job_timing job=%s total=%s", job.MessageID, total)
	}
	return nil
}
