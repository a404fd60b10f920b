/*
DESCRIPTION
  nexuscat attaches to a networked camera's streaming service and writes the
  camera's H.264 elementary stream and AAC audio to files or stdout. It
  refreshes the access token from a watched token file, answers systemd
  watchdog probes, and writes a still snapshot on SIGUSR1.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main implements nexuscat, a command line consumer of camera
// streams.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/protocol/nexus"
	"github.com/n0rt0nthec4t/Nest-accfactory-sub001/streamer"
)

// Current software version.
const version = "v0.3.0"

// Logging configuration.
const (
	logPath      = "/var/log/nexuscat/nexuscat.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

const pkg = "nexuscat: "

func main() {
	var (
		showVersion  = flag.Bool("version", false, "show version")
		host         = flag.String("host", "", "streaming host for the camera")
		uuid         = flag.String("uuid", "", "camera UUID")
		token        = flag.String("token", "", "access token")
		tokenFile    = flag.String("token-file", "", "file holding the access token, watched for refreshes")
		google       = flag.Bool("google", false, "access token is a Google account token")
		audio        = flag.Bool("audio", false, "request the camera's audio stream")
		capabilities = flag.String("capabilities", "", "comma-separated camera capability list")
		videoOut     = flag.String("out", "-", "video output file, - for stdout")
		audioOut     = flag.String("audio-out", "", "audio output file")
		snapshotOut  = flag.String("snapshot-out", "snapshot.jpg", "snapshot file written on SIGUSR1")
	)
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Create lumberjack logger to handle logging to file.
	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	log.Info(pkg+"starting", "version", version)

	if *tokenFile != "" && *token == "" {
		b, err := os.ReadFile(*tokenFile)
		if err != nil {
			log.Fatal(pkg+"could not read token file", "error", err.Error())
		}
		*token = strings.TrimSpace(string(b))
	}

	auth := nexus.AuthNest
	if *google {
		auth = nexus.AuthGoogle
	}
	var caps []string
	if *capabilities != "" {
		caps = strings.Split(*capabilities, ",")
	}

	s, err := streamer.New(streamer.Config{
		CameraUUID:       *uuid,
		Host:             *host,
		AccessToken:      *token,
		Auth:             auth,
		Capabilities:     caps,
		AudioEnabled:     *audio,
		Online:           true,
		StreamingEnabled: true,
		Logger:           log,
	})
	if err != nil {
		log.Fatal(pkg+"could not create streamer", "error", err.Error())
	}

	videoSink := streamer.NewBufferedSink(outFile(log, *videoOut), log)
	defer videoSink.Close()
	var audioSink io.Writer
	if *audioOut != "" {
		as := streamer.NewBufferedSink(outFile(log, *audioOut), log)
		defer as.Close()
		audioSink = as
	}

	// Buffer so that snapshots have a keyframe sequence to draw on.
	s.StartBuffering()
	_, err = s.AttachLive(videoSink, audioSink, nil)
	if err != nil {
		log.Fatal(pkg+"could not attach to stream", "error", err.Error())
	}

	if *tokenFile != "" {
		go watchToken(log, s, *tokenFile)
	}
	go notifyWatchdog(log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for received := range sig {
		if received == syscall.SIGUSR1 {
			writeSnapshot(log, s, *snapshotOut)
			continue
		}
		log.Info(pkg+"terminating", "signal", received.String())
		break
	}

	err = s.Close()
	if err != nil {
		log.Warning(pkg+"could not close streamer", "error", err.Error())
	}
}

// outFile opens path for writing, with - meaning stdout.
func outFile(log logging.Logger, path string) io.WriteCloser {
	if path == "-" {
		return os.Stdout
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(pkg+"could not create output file", "path", path, "error", err.Error())
	}
	return f
}

// watchToken watches the token file and passes refreshed tokens through to
// the streamer.
func watchToken(log logging.Logger, s *streamer.Streamer, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warning(pkg+"could not create token watcher", "error", err.Error())
		return
	}
	defer watcher.Close()

	// Watch the directory; editors commonly replace the file rather than
	// write it in place.
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		log.Warning(pkg+"could not watch token file", "error", err.Error())
		return
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			b, err := os.ReadFile(path)
			if err != nil {
				log.Warning(pkg+"could not read refreshed token", "error", err.Error())
				continue
			}
			t := strings.TrimSpace(string(b))
			if t == "" {
				continue
			}
			log.Info(pkg + "access token refreshed")
			s.UpdateToken(t)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warning(pkg+"token watcher error", "error", err.Error())
		}
	}
}

// notifyWatchdog reports readiness to systemd and services its watchdog, if
// one is configured.
func notifyWatchdog(log logging.Logger) {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Debug(pkg+"could not notify readiness", "error", err.Error())
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	for range time.Tick(interval / 2) {
		_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		if err != nil {
			log.Debug(pkg+"could not notify watchdog", "error", err.Error())
		}
	}
}

// writeSnapshot extracts a still image from the stream buffer and writes it
// to path.
func writeSnapshot(log logging.Logger, s *streamer.Streamer, path string) {
	img, err := s.Snapshot()
	if err != nil {
		log.Warning(pkg+"could not take snapshot", "error", err.Error())
		return
	}
	if img == nil {
		log.Info(pkg + "no snapshot available")
		return
	}
	err = os.WriteFile(path, img, 0644)
	if err != nil {
		log.Warning(pkg+"could not write snapshot", "error", err.Error())
		return
	}
	log.Info(pkg+"snapshot written", "path", path, "size", len(img))
}
