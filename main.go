package main

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"imagefliter/dedup"
	"imagefliter/fingerprint"
	"imagefliter/hashcache"
	"imagefliter/logging"
	"imagefliter/pipeline"
	"imagefliter/signalhandler"
	"imagefliter/types"
	"imagefliter/uri"
	"imagefliter/utils"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Set up proper signal handling
	signalhandler.SetupHandler()
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	args := utils.ParseArguments()
	command, hasCommand := args["command"]

	// Setup debug logging if enabled
	if _, ok := args["debug"]; ok {
		logPath := "imagefliter.log"
		if customLogPath, ok := args["logfile"]; ok && customLogPath != "" {
			logPath = customLogPath
		}
		if err := logging.SetupLogger(logPath); err != nil {
			fmt.Printf("Warning: Failed to setup logging: %v\n", err)
		} else {
			fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
			defer logging.CloseLogger()
		}
	}

	showUsage := !hasCommand
	if hasCommand && args["input"] == "" {
		showUsage = true
	}
	if hasCommand && command == "hash" && args["output"] == "" {
		showUsage = true
	}
	if showUsage {
		utils.PrintUsage()
		os.Exit(1)
	}

	switch command {
	case "filter":
		handleFilterCommand(args)
	case "hash":
		handleHashCommand(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		utils.PrintUsage()
		os.Exit(1)
	}
}

func handleFilterCommand(args map[string]string) {
	inputDir := args["input"]
	info, err := os.Stat(inputDir)
	if err != nil {
		log.Fatalf("Cannot access input path: %s (%v)", inputDir, err)
	}
	if !info.IsDir() {
		log.Fatalf("Input path is not a directory: %s", inputDir)
	}

	threshold, err := utils.ParseIntFlag(args, "threshold", dedup.DefaultHammingThreshold)
	if err != nil {
		log.Fatal(err)
	}
	refThreshold, err := utils.ParseIntFlag(args, "ref-threshold", 0)
	if err != nil {
		log.Fatal(err)
	}
	minSize, err := utils.ParseIntFlag(args, "min-size", 0)
	if err != nil {
		log.Fatal(err)
	}
	workers, err := utils.ParseIntFlag(args, "workers", 0)
	if err != nil {
		log.Fatal(err)
	}
	textThreshold, err := utils.ParseFloatFlag(args, "text-threshold", 0)
	if err != nil {
		log.Fatal(err)
	}

	mode := dedup.Mode(args["mode"])
	if mode == "" {
		mode = dedup.ModeQuality
	}
	switch mode {
	case dedup.ModeQuality, dedup.ModeWatermark, dedup.ModeHash:
	default:
		log.Fatalf("Unknown duplicate mode: %s (expected quality, watermark or hash)", mode)
	}

	storePaths := utils.SplitKeywords(args["store"])
	if len(storePaths) == 0 {
		storePaths = []string{utils.DefaultStorePath()}
	}
	textCachePath := args["text-cache"]
	if textCachePath == "" {
		textCachePath = utils.DefaultTextCachePath()
	}

	startTime := time.Now()

	cache := hashcache.New(hashcache.Options{StorePaths: storePaths})
	signalhandler.RegisterCleanup(func() { cache.Flush(true) })

	opts := pipeline.Options{
		EnableSmall:         hasFlag(args, "small"),
		EnableGrayscale:     hasFlag(args, "grayscale"),
		EnableDuplicate:     hasFlag(args, "duplicate"),
		EnableText:          hasFlag(args, "text"),
		MinSize:             minSize,
		Mode:                mode,
		HammingThreshold:    threshold,
		RefHammingThreshold: refThreshold,
		HashFile:            args["hash-file"],
		WatermarkKeywords:   utils.SplitKeywords(args["keywords"]),
		TextThreshold:       textThreshold,
		MaxWorkers:          workers,
		OCRURL:              args["ocr-url"],
		OCRLanguage:         args["ocr-lang"],
		TextCachePath:       textCachePath,
	}

	filter, err := pipeline.New(opts, cache)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	defer filter.Close()

	paths, err := utils.CollectImagePaths(inputDir)
	if err != nil {
		log.Fatalf("Error walking input directory: %v", err)
	}
	refs := make([]types.ImageRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, uri.NewRef(p))
	}

	fmt.Printf("Starting image filtering...\n")
	fmt.Printf("Total image files to process: %d\n", len(refs))
	fmt.Printf("Enabled stages: %s\n", enabledStages(opts))
	if opts.EnableDuplicate {
		fmt.Printf("Duplicate mode: %s (threshold %d)\n", mode, threshold)
	}

	verdict, err := filter.Process(refs)
	if err != nil {
		log.Fatalf("Error processing images: %v", err)
	}

	cache.Flush(true)

	duration := time.Since(startTime)
	fmt.Printf("\nFiltering completed.\n")
	fmt.Printf("Total execution time: %v\n", duration)
	fmt.Printf("Images marked for removal: %d of %d\n", verdict.Len(), len(refs))

	printVerdict(verdict)
}

func handleHashCommand(args map[string]string) {
	inputDir := args["input"]
	output := args["output"]

	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		log.Fatalf("Input path is not an accessible directory: %s", inputDir)
	}

	hashSize, err := utils.ParseIntFlag(args, "hash-size", hashcache.DefaultHashSize)
	if err != nil {
		log.Fatal(err)
	}
	workers, err := utils.ParseIntFlag(args, "workers", signalhandler.GetOptimalProcs())
	if err != nil {
		log.Fatal(err)
	}

	startTime := time.Now()

	cache := hashcache.New(hashcache.Options{
		StorePaths: []string{output},
		Params:     hashcache.Params{HashSize: hashSize, HashVersion: hashcache.DefaultHashVersion},
	})
	signalhandler.RegisterCleanup(func() { cache.Flush(true) })
	computer := fingerprint.NewComputer(cache, hashSize)

	paths, err := utils.CollectImagePaths(inputDir)
	if err != nil {
		log.Fatalf("Error walking input directory: %v", err)
	}

	fmt.Printf("Hashing %d images into %s...\n", len(paths), output)

	var g errgroup.Group
	g.SetLimit(workers)
	var failed atomic.Int64
	for _, p := range paths {
		ref := uri.NewRef(p)
		g.Go(func() error {
			if _, err := computer.ComputeFile(ref, nil); err != nil {
				logging.LogImageProcessed(ref.URI, false, err.Error())
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if !cache.Flush(true) {
		log.Fatalf("Error writing hash store: %s", output)
	}

	fmt.Printf("\nHash store written: %s\n", output)
	fmt.Printf("Entries: %d (failures: %d)\n", cache.Len(), failed.Load())
	fmt.Printf("Total execution time: %v\n", time.Since(startTime))
}

func hasFlag(args map[string]string, name string) bool {
	v, ok := args[name]
	return ok && v != "false"
}

func enabledStages(opts pipeline.Options) string {
	var names []string
	if opts.EnableSmall {
		names = append(names, "small")
	}
	if opts.EnableGrayscale {
		names = append(names, "grayscale")
	}
	if opts.EnableDuplicate {
		names = append(names, "duplicate")
	}
	if opts.EnableText {
		names = append(names, "text")
	}
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

// printVerdict lists the marked images with their reasons. Actual deletion
// is left to external tooling; this command only reports.
func printVerdict(verdict types.RemovalVerdict) {
	if verdict.Len() == 0 {
		return
	}

	uris := make([]string, 0, verdict.Len())
	for u := range verdict.ToRemove {
		uris = append(uris, u)
	}
	sort.Strings(uris)

	fmt.Println("\nMarked for removal:")
	for _, u := range uris {
		reason := verdict.Reasons[u]
		detail := reason.Detail
		if detail != "" {
			detail = " (" + detail + ")"
		}
		fmt.Printf("  [%s] %s%s\n", reason.Kind, u, detail)
	}
}
