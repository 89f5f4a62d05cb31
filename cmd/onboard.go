package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nutribot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

func runOnboard(cfgPath string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
	}

	cfg := config.Default()

	var (
		provider   = cfg.Agent.Provider
		model      = cfg.Agent.Model
		fromNumber = "whatsapp:+14155238886"
		windowStr  = strconv.Itoa(cfg.Debounce.WindowMS)
		corpusDir  = cfg.Retriever.CorpusDir
		reminders  bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Description("API keys are read from NUTRIBOT_<PROVIDER>_API_KEY environment variables.").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenRouter", "openrouter"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Twilio WhatsApp number").
				Description("The sandbox or business number replies are sent from.").
				Value(&fromNumber),
			huh.NewInput().
				Title("Debounce window (ms)").
				Description("Quiet period before rapid messages are merged. -1 disables.").
				Value(&windowStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("not a number")
					}
					if n == 0 || n < -1 {
						return fmt.Errorf("must be positive or -1")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Knowledge base directory").
				Description("Markdown/text nutrition references. Leave as-is to use built-in facts.").
				Value(&corpusDir),
			huh.NewConfirm().
				Title("Enable daily check-in reminders?").
				Value(&reminders),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agent.Provider = provider
	cfg.Agent.Model = model
	cfg.Channels.WhatsApp.FromNumber = fromNumber
	cfg.Debounce.WindowMS, _ = strconv.Atoi(windowStr)
	cfg.Retriever.CorpusDir = corpusDir
	cfg.Reminders.Enabled = reminders
	if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = generateToken(16)
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("\nConfiguration written to %s\n", cfgPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. export NUTRIBOT_TWILIO_ACCOUNT_SID / NUTRIBOT_TWILIO_AUTH_TOKEN")
	fmt.Printf("  2. export NUTRIBOT_%s_API_KEY\n", envProviderName(provider))
	fmt.Println("  3. nutribot gateway")
	return nil
}

func envProviderName(provider string) string {
	switch provider {
	case "openrouter":
		return "OPENROUTER"
	case "anthropic":
		return "ANTHROPIC"
	default:
		return "OPENAI"
	}
}

func generateToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
