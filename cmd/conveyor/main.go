package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/splax/conveyor/internal/frontend"
	apiclient "github.com/splax/conveyor/pkg/api/client"
	"github.com/splax/conveyor/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "build":
		err = commandBuild(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		fmt.Println(strings.TrimSpace(buildVersion))
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandLogin mints an access token from the API's shared auth secret and stores it.
func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "User identifier")
	project := fs.String("project", "", "Project identifier")
	secret := fs.String("secret", "", "API auth secret (supply to avoid prompt)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*user) == "" || strings.TrimSpace(*project) == "" {
		return errors.New("--user and --project are required")
	}
	key := strings.TrimSpace(*secret)
	if key == "" {
		fmt.Print("Auth secret: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		key = strings.TrimSpace(string(bytes))
	}

	token, err := jwt.GenerateToken(*user, *project, "", nil, key, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

type portList []int

func (p *portList) String() string {
	parts := make([]string, len(*p))
	for i, v := range *p {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (p *portList) Set(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", v)
	}
	*p = append(*p, n)
	return nil
}

func commandBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var req frontend.BuildRequest
	var ports portList
	fs.StringVar(&req.Name, "name", "", "Application name")
	fs.StringVar(&req.SourceURI, "source", "", "Source repository URI")
	fs.StringVar(&req.Revision, "revision", "", "Source revision")
	fs.StringVar(&req.PlanID, "plan", "", "Existing plan identifier")
	fs.StringVar(&req.AssemblyID, "assembly", "", "Assembly identifier to build into")
	fs.StringVar(&req.TestCmd, "test-cmd", "", "Unit test command")
	fs.StringVar(&req.RunCmd, "run-cmd", "", "Command that starts the application")
	fs.StringVar(&req.BaseImageID, "base-image", "", "Base image identifier")
	fs.StringVar(&req.SourceFormat, "source-format", "", "heroku|dockerfile|dib")
	fs.StringVar(&req.ImageFormat, "image-format", "", "docker|qcow2")
	fs.Var(&ports, "port", "Application port (repeatable)")
	fs.Parse(args)
	req.Ports = ports

	if strings.TrimSpace(req.SourceURI) == "" && req.PlanID == "" {
		return errors.New("--source or --plan is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := client.TriggerBuild(ctx, cfg.AccessToken, req)
	if err != nil {
		return err
	}
	fmt.Printf("build queued: assembly=%s image=%s status=%s\n", res.AssemblyID, res.ImageID, res.Status)
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *apiBase != "" {
		cfg.APIBaseURL = *apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if health != nil {
		fmt.Println(health.Status)
		for name, component := range health.Components {
			fmt.Printf("  %s\t%v\n", name, component["status"])
		}
	}
	return err
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "conveyor", "config.json"), nil
}

func printUsage() {
	fmt.Printf("conveyor CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	conveyor login --user <id> --project <id> [--secret s] [--api http://localhost:4000]
	conveyor build --source <uri> [--name app] [--test-cmd cmd] [--run-cmd cmd] [--port N]
	               [--source-format heroku|dockerfile|dib] [--image-format docker|qcow2]
	conveyor build --plan <plan-id>
	conveyor health [--api url]
	conveyor version
`)
}
