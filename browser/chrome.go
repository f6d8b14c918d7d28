package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	dockerContainerName = "autocapture-chrome"
	dockerImage         = "browserless/chrome"
	dockerDevToolsURL   = "http://localhost:9222"
)

// findChromeExecutable attempts to locate the Chrome executable on the system
func findChromeExecutable() (string, error) {
	// Check for environment variable first
	if envPath := os.Getenv("CHROME_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		paths = []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google/Chrome/Application/chrome.exe"),
			filepath.Join(os.Getenv("LocalAppData"), "Google/Chrome/Application/chrome.exe"),
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// Try finding in PATH
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find Chrome executable")
}

// startDockerChrome starts a Chrome container if one is not already running
// and returns its DevTools address.
func startDockerChrome(ctx context.Context, logger *zap.Logger) (string, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", fmt.Errorf("docker not installed: %w", err)
	}

	running, err := dockerContainerRunning(ctx)
	if err != nil {
		return "", err
	}
	if running {
		logger.Info("Using existing Chrome container", zap.String("container", dockerContainerName))
		return dockerDevToolsURL, nil
	}

	logger.Info("Starting Chrome container", zap.String("image", dockerImage))
	cmd := exec.CommandContext(ctx, "docker", "run", "-d", "--rm", "--name", dockerContainerName, "-p", "9222:9222", dockerImage)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to start chrome container: %w, output: %s", err, string(output))
	}

	logger.Info("Waiting for Chrome container to be ready")
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 8; i++ {
		if devToolsReady(ctx, client, dockerDevToolsURL) {
			logger.Info("Chrome container is ready")
			return dockerDevToolsURL, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return "", fmt.Errorf("chrome container started but not responding")
}

func dockerContainerRunning(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "ps", "-q", "-f", "name="+dockerContainerName, "-f", "status=running")
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check for running chrome container: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

func devToolsReady(ctx context.Context, client *http.Client, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false
	}
	return strings.Contains(string(body), "webSocketDebuggerUrl")
}

// CleanupDockerContainer stops the Chrome container if this tool started one.
func CleanupDockerContainer(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	running, err := dockerContainerRunning(ctx)
	if err != nil || !running {
		return
	}

	logger.Info("Stopping Chrome Docker container")
	if err := exec.CommandContext(ctx, "docker", "stop", dockerContainerName).Run(); err != nil {
		logger.Warn("Failed to stop Chrome container", zap.Error(err))
		return
	}
	logger.Info("Chrome Docker container stopped")
}
