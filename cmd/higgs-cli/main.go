// main package for the interactive higgs-cli generator
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"

	"github.com/book-expert/higgs-tts/internal/config"
	"github.com/book-expert/higgs-tts/internal/generator"
	"github.com/book-expert/higgs-tts/internal/genlog"
	"github.com/book-expert/higgs-tts/internal/prompt"
	"github.com/book-expert/higgs-tts/internal/staging"
	"github.com/book-expert/higgs-tts/internal/tts"
)

const (
	bootstrapLogFile = "higgs-cli-bootstrap.log"
	cliLogFile       = "higgs-cli.log"
	ruleWidth        = 50
)

// Console messages.
const (
	msgStarting    = "\nStarting generation...\n"
	msgRunFmt      = "Model: %s\nOutput file: %s\n%s\n"
	msgSucceeded   = "Generation succeeded."
	msgSavedFmt    = "Audio saved to: %s\n"
	msgLoggedFmt   = "Logged to: %s\n"
	msgExitCodeFmt = "Generation failed with exit code %d\n"
	msgFailedFmt   = "Generation failed: %v\n"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "higgs-cli exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal.
	_ = godotenv.Load()

	cfg, log, err := setup()
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	plan, err := prompt.NewSession(os.Stdin, os.Stdout, cfg.Paths.OutputDir).Run()
	if errors.Is(err, prompt.ErrCancelled) {
		return nil
	}

	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generationLog := genlog.New(cfg.Paths.OutputDir)
	stager := staging.New(cfg.Paths.VoicePromptsDir, cfg.Paths.TempDir, log)
	service := tts.NewService(newRunner(cfg, log), stager, log, tts.WithRecorder(generationLog))

	fmt.Print(msgStarting)
	fmt.Printf(msgRunFmt, cfg.Generator.ModelPath, plan.OutputPath, strings.Repeat("-", ruleWidth))

	result, err := service.Generate(ctx, tts.Job{
		Source:          tts.SourceCLI,
		Params:          plan.Params,
		OutputPath:      plan.OutputPath,
		RefAudioPath:    plan.RefAudio,
		ScenePromptPath: plan.ScenePrompt,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	})
	if err != nil {
		var exitErr *generator.ExitError
		if errors.As(err, &exitErr) {
			fmt.Printf(msgExitCodeFmt, exitErr.Code)
		} else {
			fmt.Printf(msgFailedFmt, err)
		}

		return err
	}

	fmt.Println(msgSucceeded)
	fmt.Printf(msgSavedFmt, result.OutputPath)
	fmt.Printf(msgLoggedFmt, generationLog.Path())

	return nil
}

// setup loads configuration with a bootstrap logger, prepares the directory
// layout, and opens the CLI logger.
func setup() (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	root, err := config.RootFromEnv()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Discover("", root, bootstrapLog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, cliLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}

func newRunner(cfg *config.Config, log *logger.Logger) *generator.Runner {
	return generator.New(generator.Config{
		Command:        cfg.Generator.Command,
		Script:         cfg.Generator.Script,
		WorkDir:        cfg.Generator.WorkDir,
		ModelPath:      cfg.Generator.ModelPath,
		AudioTokenizer: cfg.Generator.AudioTokenizer,
		Device:         cfg.Generator.Device,
		ToolchainDir:   cfg.Generator.ToolchainDir,
		Timeout:        cfg.GeneratorTimeout(),
	}, log)
}
