package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-speaker/internal/bus"
	"github.com/loqalabs/loqa-speaker/internal/journal"
	"github.com/loqalabs/loqa-speaker/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var (
	pubSession string
	pubVoice   string
	pubSpeed   float64
	pubWait    bool
	pubTimeout time.Duration

	historyLimit int

	publishCmd = &cobra.Command{
		Use:   "publish [TEXT...]",
		Short: "Send text to a running speakerd over NATS",
		RunE:  runPublish,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent utterances from the local journal",
		RunE:  runHistory,
	}
)

func init() {
	publishCmd.Flags().StringVar(&pubSession, "session", "", "session id echoed back on speech.done")
	publishCmd.Flags().StringVar(&pubVoice, "voice", "", "voice name")
	publishCmd.Flags().Float64Var(&pubSpeed, "speed", 0, "speech rate multiplier")
	publishCmd.Flags().BoolVar(&pubWait, "wait", false, "wait for the speech.done event")
	publishCmd.Flags().DurationVar(&pubTimeout, "timeout", 2*time.Minute, "request and wait timeout")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries")
}

func runPublish(cmd *cobra.Command, args []string) error {
	text, err := textFromArgs(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), pubTimeout)
	defer cancel()

	client, err := bus.Connect(ctx, "loqa-say", cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// Subscribe before sending so a fast speaker cannot beat us to it.
	var done chan protocol.SpeechDone
	if pubWait {
		done = make(chan protocol.SpeechDone, 16)
		sub, err := client.Conn().Subscribe(cfg.Intake.DoneSubject, func(msg *nats.Msg) {
			var ev protocol.SpeechDone
			if json.Unmarshal(msg.Data, &ev) == nil {
				select {
				case done <- ev:
				default:
				}
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Intake.DoneSubject, err)
		}
		defer sub.Unsubscribe()
	}

	var ack protocol.SayAck
	req := protocol.SayRequest{SessionID: pubSession, Text: text, Voice: pubVoice, Speed: pubSpeed}
	if err := client.RequestJSON(ctx, cfg.Intake.Subject, req, &ack); err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("speaker rejected request: %s", ack.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", ack.RequestID)
	if !pubWait {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return errors.New("timed out waiting for speech.done")
		case ev := <-done:
			if ev.RequestID != ack.RequestID {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%dms)\n", ev.Status, ev.RequestID, ev.DurationMS)
			if ev.Error != "" {
				return errors.New(ev.Error)
			}
			return nil
		}
	}
}

func runHistory(cmd *cobra.Command, _ []string) error {
	j, err := journal.Open(cmd.Context(), cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no utterances recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-9s %-14s %6s  %s\n", e.Status, humanize.Time(e.FinishedAt),
			(time.Duration(e.DurationMS) * time.Millisecond).Round(100*time.Millisecond), e.Text)
		if e.Error != "" {
			fmt.Fprintf(out, "          error: %s\n", e.Error)
		}
	}
	return nil
}
