package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/KLayOnStudio/dojogo-sub000/internal/capture"
	"github.com/KLayOnStudio/dojogo-sub000/internal/config"
	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
)

// cmd/capture records one capture session from an NDJSON sample stream on
// stdin: one sample per line, the chunk codec's sample format. It resumes
// any interrupted sessions first, then records until EOF and drives
// upload plus finalize.
func main() {
	if err := run(config.Load(), os.Stdin, os.Stdout); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

func run(cfg config.Config, in io.Reader, out io.Writer) error {
	client := capture.NewClient(cfg.APIBaseURL, cfg.AuthToken)
	ctrl := capture.NewController(capture.Config{
		Root:      cfg.CaptureDir,
		NominalHz: cfg.NominalHz,
		// Sample accel is user acceleration, gravity already subtracted.
		GravityRemoved: true,
	}, client)
	ctx := context.Background()

	resumed, err := ctrl.Recover(ctx)
	if err != nil {
		log.Printf("recover: %v", err)
	}
	for _, summary := range resumed {
		log.Printf("resumed session %s: %d files, %d samples", summary.SessionID, summary.TotalFiles, summary.TotalSamples)
	}

	if err := ctrl.OnExternalSessionStart(ctx, capture.StartOptions{
		DeviceInfo: localDevice(),
		ActionType: cfg.ActionType,
	}); err != nil {
		return err
	}

	recorded, err := record(ctrl, in)
	if err != nil {
		return err
	}
	log.Printf("recorded %d samples", recorded)

	summary, err := ctrl.OnExternalSessionEnd(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(summary)
}

// record feeds stdin samples into the controller until EOF. Malformed
// lines abort: a broken sample source should be fixed, not skipped over.
func record(ctrl *capture.Controller, in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var s imu.Sample
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return n, fmt.Errorf("parse sample line %d: %w", n+1, err)
		}
		if err := ctrl.Record(s); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}

func localDevice() ingest.DeviceInfo {
	hostname, _ := os.Hostname()
	return ingest.DeviceInfo{
		Platform: "other",
		Model:    runtime.GOOS,
		HwID:     hostname,
	}
}
