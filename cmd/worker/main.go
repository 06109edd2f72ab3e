package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docpipe/internal/bootstrap"
	"docpipe/internal/chunker"
	"docpipe/internal/pipeline"
	"docpipe/internal/repository"
)

func main() {
	stageFlag := flag.String("stage", "", "pipeline stage to consume (processing or embedding); empty runs all stages")
	flag.Parse()

	stageName := *stageFlag
	if stageName == "" {
		stageName = os.Getenv("WORKER_STAGE")
	}

	ctx := context.Background()

	app, err := bootstrap.New(ctx)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close resources failed: %v", err)
		}
	}()

	ch, err := chunker.New(app.Config.Pipeline.ChunkSize, app.Config.Pipeline.ChunkOverlap)
	if err != nil {
		log.Fatalf("invalid chunker config: %v", err)
	}

	orch := pipeline.NewOrchestrator(
		repository.NewDocumentRepository(app.MySQL),
		repository.NewChunkRepository(app.MySQL),
		app.Vector,
		app.Embedder,
		app.Queue,
		ch,
		app.Publisher,
		app.PipelineConfig(),
	)

	stages := orch.Stages()
	if stageName != "" {
		stage, err := orch.StageByName(stageName)
		if err != nil {
			log.Fatalf("%v", err)
		}
		stages = []pipeline.Stage{stage}
	}

	leaseCheck := time.Duration(app.Config.Pipeline.LeaseCheckSeconds) * time.Second
	workers := make([]*pipeline.Worker, 0, len(stages))
	for _, stage := range stages {
		w := pipeline.NewWorker(app.Queue, stage, leaseCheck)
		if err := w.Start(ctx); err != nil {
			log.Fatalf("start %s worker failed: %v", stage.Name, err)
		}
		workers = append(workers, w)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	for _, w := range workers {
		w.Close()
	}
}
