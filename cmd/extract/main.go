// Command extract runs the extraction pipeline on local files and prints one
// JSON result per file. Plain text goes straight to the engine; PDFs, images
// and DTE XML go through text acquisition first.
//
//	extract [-source native-text] [-ocr] [-vision openai] factura.pdf boleta.txt
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/facturaIA/dte-extraction-service/internal/acquisition"
	"github.com/facturaIA/dte-extraction-service/internal/ai"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/logger"
	"github.com/facturaIA/dte-extraction-service/internal/models"
	"github.com/facturaIA/dte-extraction-service/internal/ocr"
	"github.com/facturaIA/dte-extraction-service/internal/ocr/tesseract"
	"github.com/facturaIA/dte-extraction-service/internal/services"
)

type fileResult struct {
	File string `json:"file"`
	*services.Outcome
	Failure string `json:"failure,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the YAML configuration file")
		sourceName = flag.String("source", "native-text", "provenance of plain text input: native-text, rasterized-recognition or structured-markup")
		useOCR     = flag.Bool("ocr", false, "run text files through acquisition as well")
		provider   = flag.String("vision", "", "vision provider overriding the configured one")
		pretty     = flag.Bool("pretty", false, "indent JSON output")
		verbose    = flag.Bool("v", false, "log acquisition details to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	source, ok := extraction.ParseSource(*sourceName)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown source %q\n", *sourceName)
		os.Exit(2)
	}

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger.Init(level, true)

	if *provider != "" {
		config.AI.DefaultProvider = *provider
	}

	processor := newProcessor(config)

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	failed := false
	for _, path := range flag.Args() {
		res := fileResult{File: path}

		data, err := readInput(path)
		if err != nil {
			res.Failure = err.Error()
			failed = true
			enc.Encode(res)
			continue
		}

		if !*useOCR && acquisition.Detect(data, path) == acquisition.KindText {
			res.Outcome = processor.Evaluate(string(data), source)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.OCR.TimeoutSeconds+30)*time.Second)
			res.Outcome, err = processor.Analyze(ctx, data, filepath.Base(path))
			cancel()
			if err != nil && res.Outcome == nil {
				res.Failure = err.Error()
			}
		}
		enc.Encode(res)
	}

	if failed {
		os.Exit(1)
	}
}

func newProcessor(config *models.Config) *services.Processor {
	acqConfig := acquisition.Config{
		Preprocessor:   ocr.NewPreprocessor(config.OCR.MaxImageSide, 0),
		MinNativeChars: config.OCR.MinNativeChars,
		Timeout:        time.Duration(config.OCR.TimeoutSeconds) * time.Second,
	}

	vision, err := ai.NewTranscriber(context.Background(), config.AI)
	if err != nil {
		log.Debug().Err(err).Msg("vision fallback disabled")
	} else {
		acqConfig.Vision = vision
	}

	if config.OCR.Engine == "tesseract" {
		recognizer := tesseract.New(config.OCR.Language)
		if err := recognizer.Available(); err != nil {
			log.Warn().Err(err).Msg("tesseract not usable")
		} else {
			acqConfig.Recognizer = recognizer
		}
	}
	if rasterizer := ocr.NewRasterizer(0, 0); rasterizer != nil {
		acqConfig.Rasterizer = rasterizer
	}

	return services.NewProcessor(services.ProcessorConfig{
		Acquirer: acquisition.New(acqConfig),
		Vision:   acqConfig.Vision,
		Engine: extraction.New(extraction.Options{
			DefaultIVARate: config.Extraction.IVARate,
			Tolerance:      config.Extraction.Tolerance,
		}),
		Validator: services.NewTaxValidator(config.Extraction.IVARate, config.Extraction.Tolerance),
	})
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
