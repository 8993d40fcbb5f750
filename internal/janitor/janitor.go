// Package janitor runs the engine's scheduled maintenance: dedup window
// eviction and periodic session statistics.
package janitor

import (
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"
)

type Job struct {
	Name string
	Spec string // cron spec, e.g. "@every 10m"
	Run  func()
}

type Service struct {
	jobs []Job
	cron *rcron.Cron
}

func New(jobs ...Job) *Service {
	return &Service{jobs: jobs}
}

func (s *Service) Start() {
	s.cron = rcron.New()
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() {
			job.Run()
		}); err != nil {
			log.Printf("[janitor] failed to register job %s (%s): %v", job.Name, job.Spec, err)
		}
	}
	s.cron.Start()
	log.Printf("[janitor] started with %d jobs", len(s.jobs))
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[janitor] stop timeout waiting for running jobs")
	}
	log.Printf("[janitor] stopped")
}
