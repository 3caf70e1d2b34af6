package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/cache"
	"github.com/raaihank/mail-sentinel/internal/classifier"
	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/dataset"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"github.com/raaihank/mail-sentinel/internal/pii"
	"github.com/raaihank/mail-sentinel/internal/store"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile   = flag.String("output", "", "Model artifact path (defaults to classifier.model_path)")
		maxFeatures  = flag.Int("max-features", 0, "Vocabulary size (defaults to training.max_features)")
		epochs       = flag.Int("epochs", 0, "Gradient descent epochs (defaults to training.epochs)")
		batchSize    = flag.Int("batch-size", 0, "Batch size for loading")
		workers      = flag.Int("workers", 0, "Number of masking worker goroutines")
		holdout      = flag.Float64("holdout", -1, "Fraction of records held out for evaluation")
		validateOnly = flag.Bool("validate-only", false, "Only load and clean the dataset, don't train")
		clearCache   = flag.Bool("clear-cache", false, "Clear cached predictions after saving the model")
		showStats    = flag.Bool("stats", false, "Show audit store statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input emails.csv --output models/classifier.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input emails.parquet --workers 8 --holdout 0.1\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input emails.jsonl --validate-only\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *outputFile, *maxFeatures, *epochs, *batchSize, *workers, *holdout)

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mail-sentinel training",
		zap.String("input", *inputFile),
		zap.String("output", cfg.Classifier.ModelPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	if *showStats {
		if err := showStoreStats(ctx, cfg, log); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, *inputFile, *validateOnly, log); err != nil {
		log.Fatal("Training failed", zap.Error(err))
	}

	if *clearCache && !*validateOnly {
		if err := clearPredictions(ctx, cfg, log); err != nil {
			log.Fatal("Failed to clear cache", zap.Error(err))
		}
	}

	log.Info("Training completed successfully")
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cfg *config.Config, output string, maxFeatures, epochs, batchSize, workers int, holdout float64) {
	if output != "" {
		cfg.Classifier.ModelPath = output
	}
	if maxFeatures > 0 {
		cfg.Training.MaxFeatures = maxFeatures
	}
	if epochs > 0 {
		cfg.Training.Epochs = epochs
	}
	if batchSize > 0 {
		cfg.Training.BatchSize = batchSize
	}
	if workers > 0 {
		cfg.Training.WorkerCount = workers
	}
	if holdout >= 0 && holdout < 1 {
		cfg.Training.Holdout = holdout
	}
}

// run loads and cleans the dataset, then trains, evaluates and saves the model.
func run(ctx context.Context, cfg *config.Config, inputFile string, validateOnly bool, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	// Training text is always masked with every detector, whatever the
	// server is configured to mask.
	detector, err := pii.New(config.PrivacyConfig{Enabled: true, Detectors: []string{"all"}}, log.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to create privacy detector: %w", err)
	}

	pipeline := dataset.NewPipeline(detector, dataset.Config{
		BatchSize:      cfg.Training.BatchSize,
		WorkerCount:    cfg.Training.WorkerCount,
		ProgressReport: 1000,
	}, log.WithComponent("dataset"))

	corpus, result, err := pipeline.LoadFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	log.Info("Dataset loaded",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("masked_entities", result.Masked),
		zap.Any("classes", result.Classes),
		zap.Duration("duration", result.Duration))

	if validateOnly {
		return nil
	}

	train, holdout := corpus.Split(cfg.Training.Holdout)

	artifact, err := classifier.Fit(ctx, train.Documents, train.Labels, classifier.Options{
		MaxFeatures: cfg.Training.MaxFeatures,
		Train: classifier.TrainOptions{
			Epochs:       cfg.Training.Epochs,
			LearningRate: cfg.Training.LearningRate,
			L2:           cfg.Training.L2,
		},
	})
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("documents", artifact.Metrics.Documents),
		zap.Int("features", artifact.Metrics.Features),
		zap.Strings("labels", artifact.Model.Labels),
		zap.Float64("train_accuracy", artifact.Metrics.Accuracy),
		zap.Duration("duration", artifact.Metrics.Duration),
	}
	if holdout.Len() > 0 {
		fields = append(fields,
			zap.Int("holdout_documents", holdout.Len()),
			zap.Float64("holdout_accuracy", artifact.Evaluate(holdout.Documents, holdout.Labels)))
	}
	log.Info("Model trained", fields...)

	if err := artifact.Save(cfg.Classifier.ModelPath); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	log.Info("Model saved", zap.String("path", cfg.Classifier.ModelPath))

	return nil
}

// clearPredictions drops cached predictions made by the previous model.
func clearPredictions(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	resultCache, err := cache.New(cfg.Cache, log.WithComponent("cache"))
	if err != nil {
		return err
	}
	defer resultCache.Close()

	removed, err := resultCache.Clear(ctx)
	if err != nil {
		return err
	}
	log.Info("Cached predictions cleared", zap.Int("removed_keys", removed))
	return nil
}

// showStoreStats displays classification counts from the audit store
func showStoreStats(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	auditStore, err := store.New(cfg.Store, log.WithComponent("store"))
	if err != nil {
		return err
	}
	defer auditStore.Close()

	counts, err := auditStore.CategoryCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get category counts: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}

	fmt.Printf("\n=== mail-sentinel Classification Statistics ===\n")
	fmt.Printf("Total Classifications: %d\n", total)
	for _, c := range counts {
		fmt.Printf("  %-20s %d (%.1f%%)\n", c.Category, c.Count, float64(c.Count)/float64(total)*100)
	}

	recent, err := auditStore.Recent(ctx, 5)
	if err != nil {
		return fmt.Errorf("failed to get recent classifications: %w", err)
	}
	if len(recent) > 0 {
		fmt.Printf("\n=== Most Recent ===\n")
		for _, c := range recent {
			fmt.Printf("%s  %-12s %.2f  %d entities\n", c.CreatedAt.Format("2006-01-02 15:04:05"), c.Category, c.Confidence, c.EntityCount)
		}
	}

	return nil
}
