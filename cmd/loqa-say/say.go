package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-speaker/internal/runtime"
	"github.com/loqalabs/loqa-speaker/internal/sanitize"
	"github.com/loqalabs/loqa-speaker/internal/speech"
	"github.com/spf13/cobra"
)

var (
	sayVoice   string
	saySpeed   float64
	sayTimeout time.Duration
	sayBackend string
	sayWavDir  string

	sayCmd = &cobra.Command{
		Use:   "say [TEXT...]",
		Short: "Synthesize and play text in-process",
		Long:  "Synthesize and play text in-process, blocking until playback finishes. Reads stdin when no text is given.",
		RunE:  runSay,
	}

	sanitizeCmd = &cobra.Command{
		Use:   "sanitize [TEXT...]",
		Short: "Print text as it would be spoken",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := textFromArgs(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			clean := sanitize.Text(text)
			fmt.Fprintln(cmd.OutOrStdout(), clean)
			if !sanitize.Queueable(clean) {
				return errors.New("text too short to be queued")
			}
			return nil
		},
	}
)

func init() {
	sayCmd.Flags().StringVar(&sayVoice, "voice", "", "voice name (default from config)")
	sayCmd.Flags().Float64Var(&saySpeed, "speed", 0, "speech rate multiplier (default from config)")
	sayCmd.Flags().DurationVar(&sayTimeout, "timeout", 5*time.Minute, "give up waiting after this long")
	sayCmd.Flags().StringVar(&sayBackend, "backend", "", "audio backend override (oto, malgo, wav, null)")
	sayCmd.Flags().StringVar(&sayWavDir, "wav-dir", "", "directory for the wav backend")
}

func runSay(cmd *cobra.Command, args []string) error {
	text, err := textFromArgs(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if sayBackend != "" {
		cfg.Audio.Backend = sayBackend
	}
	if sayWavDir != "" {
		cfg.Audio.WavDir = sayWavDir
	}

	out := cmd.OutOrStdout()
	report := func(o speech.Outcome) {
		switch o.Status {
		case speech.StatusPlayed:
			fmt.Fprintf(out, "played %s: %s of audio, generated in %s\n",
				o.Request.ID, o.PlayTime.Round(time.Millisecond), o.GenerateTime.Round(time.Millisecond))
		case speech.StatusFailed:
			fmt.Fprintf(out, "failed %s: %v\n", o.Request.ID, o.Err)
		default:
			fmt.Fprintf(out, "%s %s\n", o.Status, o.Request.ID)
		}
	}

	p, err := runtime.PipelineBuilder(cfg, logger, report)()
	if err != nil {
		return err
	}
	p.Start()
	defer p.Stop()

	if _, ok := p.QueueText(text, sayVoice, saySpeed); !ok {
		return errors.New("nothing to say: text too short after sanitizing")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, sayTimeout)
	defer cancel()

	start := time.Now()
	if err := p.WaitUntilDone(ctx); err != nil {
		return fmt.Errorf("waiting for playback: %w", err)
	}
	st := p.Status()
	logger.Debug("say finished", "elapsed", time.Since(start), "model", st.ModelID, "loads", st.Loads)
	return nil
}
