// Command wavactl runs the generation workflows from a terminal, either
// straight against the upstream APIs or through a deployed gateway's
// /api/replicate proxy.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/prediction"
	"github.com/wava-studio/wava-gateway/internal/router"
	"github.com/wava-studio/wava-gateway/internal/router/adapters"
	"github.com/wava-studio/wava-gateway/internal/types"
	"github.com/wava-studio/wava-gateway/internal/workflow"
)

const usage = `usage: wavactl [global flags] <command> [flags]

commands:
  thumbnail   plan a prompt and render a product thumbnail
  plan        plan a detail page
  features    suggest selling points for a product
  models      list Gemini models that accept generateContent

global flags:
`

type globals struct {
	configDir string
	proxyURL  string
	verbose   bool
}

func main() {
	_ = godotenv.Load()

	var g globals
	fl := flag.NewFlagSet("wavactl", flag.ExitOnError)
	fl.StringVar(&g.configDir, "config", "", "config directory with models.yaml and providers.yaml (defaults built in)")
	fl.StringVar(&g.proxyURL, "proxy", "", "render through a gateway's job proxy, e.g. https://app.example.com/api/replicate")
	fl.BoolVar(&g.verbose, "v", false, "log orchestration details to stderr")
	fl.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fl.PrintDefaults()
	}
	fl.Parse(os.Args[1:])
	if fl.NArg() == 0 {
		fl.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, g, fl.Arg(0), fl.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", types.UserMessage(err))
		if g.verbose {
			fmt.Fprintln(os.Stderr, "detail:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, g globals, cmd string, args []string) error {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	models, providers, err := loadConfig(g.configDir, logger)
	if err != nil {
		return err
	}
	gemini := adapters.NewGeminiAdapter(providers.Get(config.ProviderGemini), nil)
	caller := workflow.Caller{
		GeminiKey:      firstNonEmpty(os.Getenv("GEMINI_API_KEY"), providers.Get(config.ProviderGemini).APIKey),
		ReplicateToken: firstNonEmpty(os.Getenv("REPLICATE_API_TOKEN"), providers.Get(config.ProviderReplicate).APIKey),
		Client:         "cli",
	}

	var backendFor func(token string) prediction.Backend
	if g.proxyURL != "" {
		proxyBackend := prediction.NewProxyBackend(g.proxyURL, nil)
		backendFor = func(string) prediction.Backend { return proxyBackend }
		// The proxy holds the token server-side.
		if caller.ReplicateToken == "" {
			caller.ReplicateToken = "proxy"
		}
	} else {
		replicate := prediction.NewReplicateBackend(providers.Get(config.ProviderReplicate), nil)
		backendFor = func(token string) prediction.Backend { return replicate.WithToken(token) }
	}

	orchestrator := router.New(gemini, router.Static(models.Text), router.WithLogger(logger))
	svc := workflow.New(orchestrator, func(token string) workflow.Renderer {
		return prediction.NewClient(backendFor(token), prediction.Static(models.Image), prediction.WithLogger(logger))
	}, workflow.WithLogger(logger))

	switch cmd {
	case "thumbnail":
		return thumbnailCmd(ctx, svc, caller, args)
	case "plan":
		return planCmd(ctx, svc, caller, args)
	case "features":
		return featuresCmd(ctx, svc, caller, args)
	case "models":
		return modelsCmd(ctx, gemini, caller)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(dir string, logger *slog.Logger) (*config.ModelsConfig, *config.ProvidersConfig, error) {
	if dir == "" {
		return config.DefaultModelsConfig(), config.DefaultProvidersConfig(), nil
	}
	loader := config.NewLoader(dir, logger)
	if err := loader.Load(); err != nil {
		return nil, nil, fmt.Errorf("load config from %s: %w", dir, err)
	}
	return loader.Models(), loader.Providers(), nil
}

func thumbnailCmd(ctx context.Context, svc *workflow.Service, c workflow.Caller, args []string) error {
	fl := flag.NewFlagSet("thumbnail", flag.ExitOnError)
	copyText := fl.String("copy", "", "main product copy")
	style := fl.String("style", "clean", "clean, lifestyle or creative")
	extra := fl.String("extra", "", "additional request for the designer")
	width := fl.Int("w", 1024, "output width")
	height := fl.Int("h", 1024, "output height")
	image := fl.String("image", "", "reference product image (png, jpeg or webp)")
	fl.Parse(args)

	in := workflow.ThumbnailInput{
		MainCopy:          *copyText,
		Style:             workflow.Style(*style),
		AdditionalRequest: *extra,
		Width:             *width,
		Height:            *height,
	}
	if *image != "" {
		img, err := readImage(*image)
		if err != nil {
			return err
		}
		in.Image = img
	}

	res, err := svc.Thumbnail(ctx, c, in)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func planCmd(ctx context.Context, svc *workflow.Service, c workflow.Caller, args []string) error {
	fl := flag.NewFlagSet("plan", flag.ExitOnError)
	name := fl.String("name", "", "product name")
	category := fl.String("category", "", "product category")
	price := fl.Int64("price", 0, "price in KRW (0 = not set)")
	promo := fl.String("promo", "", "promotion details")
	features := fl.String("features", "", "selling points")
	audience := fl.String("audience", "", "comma-separated target audiences")
	length := fl.String("length", "auto", "auto, short, standard or long")
	fl.Parse(args)

	in := workflow.DetailPageInput{
		ProductName:   *name,
		Category:      *category,
		PromotionInfo: *promo,
		Features:      *features,
		PageLength:    workflow.PageLength(*length),
	}
	if *price > 0 {
		in.Price = price
	}
	for _, a := range strings.Split(*audience, ",") {
		if a = strings.TrimSpace(a); a != "" {
			in.TargetAudience = append(in.TargetAudience, a)
		}
	}

	plan, err := svc.PlanDetailPage(ctx, c, in)
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func featuresCmd(ctx context.Context, svc *workflow.Service, c workflow.Caller, args []string) error {
	fl := flag.NewFlagSet("features", flag.ExitOnError)
	name := fl.String("name", "", "product name")
	fl.Parse(args)

	text, err := svc.SuggestFeatures(ctx, c, *name)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func modelsCmd(ctx context.Context, lister adapters.ModelLister, c workflow.Caller) error {
	if c.GeminiKey == "" {
		return &workflow.MissingCredentialError{Service: "Gemini"}
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	all, err := lister.ListModels(ctx, c.GeminiKey)
	if err != nil {
		return err
	}
	for _, m := range all {
		if !m.SupportsGenerate() {
			continue
		}
		fmt.Printf("%-40s %s\n", strings.TrimPrefix(m.Name, "models/"), m.DisplayName)
	}
	return nil
}

func readImage(path string) (*workflow.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("image %s does not exist", path)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	switch mime {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return nil, fmt.Errorf("%s is %s, want png, jpeg or webp", filepath.Base(path), mime)
	}
	return &workflow.Image{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
