package server

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/config"
)

// watchLogConfig reloads the log filter config whenever the file changes.
// A broken edit keeps the previous logger.
func watchLogConfig() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("could not create fsnotify watcher", log.ErrorField(err))
		return
	}
	defer watcher.Close()
	if err := watcher.Add(config.LogConfig); err != nil {
		log.Error("could not watch log config", log.ErrorField(err))
		return
	}
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				log.Info("watcher events channel closed, stopping log config reload")
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Chmod == fsnotify.Chmod {

				log.Info("log config changed, reloading",
					log.String("file", event.Name))
				reloadLogConfig()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				log.Info("watcher errors channel closed, stopping log config reload")
				return
			}
			log.Error("watcher error", log.ErrorField(err))
		}
	}
}

func reloadLogConfig() {
	cfg, err := log.LoadConfig(config.LogConfig)
	if err != nil {
		log.Error("could not reload log config", log.ErrorField(err))
		return
	}
	logger, err := log.NewWithConfig(cfg, os.Stderr, config.LogFormat,
		log.WithCaller(true),
		log.AddCallerSkip(1))
	if err != nil {
		log.Error("could not rebuild logger", log.ErrorField(err))
		return
	}
	log.ResetDefault(logger)
}
