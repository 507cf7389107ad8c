// Package platform holds the desktop shell surface the download engine
// attaches to: the app run loop, the browser launcher and the shell's own
// download session.
package platform

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
)

type AppConfig struct {
	ServerURL string
	DataPath  string
	Port      int
	OnQuit    func()
}

type App interface {
	Run() error
	OpenBrowser(url string) error
	Stop()
	// Ready reports whether the main surface is up and can take listeners.
	Ready() bool
}

func IsFirstRun(dbPath string) bool {
	return !fileExists(dbPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type app struct {
	config   AppConfig
	done     chan struct{}
	ready    atomic.Bool
	stopOnce sync.Once
}

// NewApp returns a headless app. Run blocks until Stop.
func NewApp(cfg AppConfig) App {
	a := &app{
		config: cfg,
		done:   make(chan struct{}),
	}
	a.ready.Store(true)
	return a
}

func (a *app) Run() error {
	<-a.done
	return nil
}

func (a *app) Ready() bool {
	return a.ready.Load()
}

func (a *app) OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func (a *app) Stop() {
	a.stopOnce.Do(func() {
		a.ready.Store(false)
		close(a.done)
		if a.config.OnQuit != nil {
			a.config.OnQuit()
		}
	})
}
