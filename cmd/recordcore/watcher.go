package main

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tiroq/recordcore/internal/ipc"
)

// settleDelay lets a writer finish before the command file is read.
const settleDelay = 50 * time.Millisecond

// watchCommands dispatches every command written to the command file in
// stateDir until stop is closed. fsnotify is backed by a 1s poll in case
// events are missed.
func watchCommands(stateDir string, handle func(ipc.Request), stop <-chan struct{}) {
	cmdPath := ipc.CommandPath(stateDir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(stateDir, handle, stop)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			errLog.Printf("Failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(stateDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(stateDir, handle, stop)
		return
	}

	outLog.Println("Command watcher started (using fsnotify)")

	pollTicker := time.NewTicker(time.Second)
	defer pollTicker.Stop()

	lastCheckTime := time.Now()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				outLog.Println("fsnotify watcher closed, switching to polling")
				watchCommandsWithPolling(stateDir, handle, stop)
				return
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				time.Sleep(settleDelay)
				if dispatchCommand(stateDir, handle) {
					lastCheckTime = time.Now()
				}
			}

		case <-pollTicker.C:
			if info, err := os.Stat(cmdPath); err == nil && info.ModTime().After(lastCheckTime) {
				time.Sleep(settleDelay)
				if dispatchCommand(stateDir, handle) {
					lastCheckTime = time.Now()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				outLog.Println("fsnotify error channel closed, switching to polling")
				watchCommandsWithPolling(stateDir, handle, stop)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

// watchCommandsWithPolling checks the command file once a second.
func watchCommandsWithPolling(stateDir string, handle func(ipc.Request), stop <-chan struct{}) {
	outLog.Println("Command watcher started (using polling fallback, 1s interval)")
	cmdPath := ipc.CommandPath(stateDir)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastCheckTime := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		info, err := os.Stat(cmdPath)
		if err != nil {
			continue
		}
		if info.ModTime().After(lastCheckTime) {
			time.Sleep(settleDelay)
			dispatchCommand(stateDir, handle)
			lastCheckTime = time.Now()
		}
	}
}

// dispatchCommand reads and clears the command file and hands a parsed
// request to handle. It reports whether a command was handled.
func dispatchCommand(stateDir string, handle func(ipc.Request)) bool {
	req, err := ipc.ReadCommand(stateDir)
	if err != nil {
		errLog.Printf("Ignoring command: %v", err)
		return false
	}
	if req.Command == "" {
		return false
	}
	handle(req)
	return true
}
