// File: cmd/process/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"product-image-pipeline/internal/config"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/infra/adapters/storage"
	"product-image-pipeline/internal/infra/adapters/transform"
	"product-image-pipeline/internal/infra/db/sqlite"
	"product-image-pipeline/internal/infra/events"
	"product-image-pipeline/internal/infra/logging"
	"product-image-pipeline/internal/usecase"
)

type versionLine struct {
	Variant      string `json:"variant"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Bytes        int64  `json:"bytes"`
	WithinLimit  bool   `json:"withinLimit"`
	Recompressed bool   `json:"recompressed"`
	Path         string `json:"path"`
}

func main() {
	file := flag.String("file", "", "source image to process")
	out := flag.String("out", "./data/images", "local storage root")
	dsn := flag.String("db", "file:process.db?_pragma=busy_timeout(5000)", "sqlite dsn")
	background := flag.String("background", "", "brand background color for letterboxing (#rrggbb)")
	timeout := flag.Duration("timeout", 3*time.Minute, "pipeline timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(config.LogConfig{Level: level, Format: "console"}, true)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: process -file <image> [-out dir] [-db dsn]")
		os.Exit(2)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal().Err(err).Msg("read source")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, *timeout)
	defer cancelRun()

	db, err := sqlite.Open(ctx, *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("sqlite")
	}
	defer db.Close()
	tm := sqlite.NewTxManager(db)
	jobs := sqlite.NewImageJobRepo(db, tm)

	objects, err := storage.NewLocalStore(*out, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}
	bus := events.NewBus(logger)

	in := usecase.UploadImageInput{
		FileName: filepath.Base(*file),
		Size:     int64(len(data)),
		MimeType: http.DetectContentType(data),
		Data:     data,
	}
	if *background != "" {
		in.Brand = &model.BrandContext{Background: *background}
	}
	job, err := usecase.NewUploadImageUseCase(jobs, tm, objects, nil, bus, 0, logger).Execute(ctx, in)
	if err != nil {
		logger.Fatal().Err(err).Msg("upload")
	}

	pipeline := usecase.NewProcessPipelineUseCase(jobs, tm, transform.NewWebPTransformer(logger), objects, nil, bus, logger)
	res, err := pipeline.Execute(ctx, job.ID(), false)
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", job.ID().String()).Msg("pipeline")
	}

	enc := json.NewEncoder(os.Stdout)
	for _, v := range res.Versions.All() {
		_ = enc.Encode(versionLine{
			Variant:      v.Kind().String(),
			Width:        v.Resolution().Width(),
			Height:       v.Resolution().Height(),
			Bytes:        v.Size().Bytes(),
			WithinLimit:  v.IsWithinSizeLimit(),
			Recompressed: v.Recompressed(),
			Path:         filepath.Join(*out, filepath.FromSlash(v.StoragePath())),
		})
	}
	logger.Info().Str("job_id", job.ID().String()).Dur("elapsed", res.Elapsed).Msg("done")
}
