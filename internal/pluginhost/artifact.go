package pluginhost

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/forgeerr"
)

// artifactCacheDir is where downloaded plugin artifacts are cached,
// per spec.md §6's $HOME/.forge/plugins convention, resolved through the
// XDG base-directory spec so it respects XDG_CACHE_HOME when set.
func artifactCacheDir() (string, error) {
	return xdg.CacheFile(filepath.Join("forge", "plugins"))
}

// FetchArtifact downloads a plugin distributed via PluginSpec.Source,
// caching it as <id>-<version> in the plugin cache directory so repeated
// loads are free. The host treats the artifact as an opaque blob; it does
// not execute it in-process. Host.Run does not call it: plugins are
// resolved by id against the built-in registry only.
func FetchArtifact(log hclog.Logger, id, version, source string) (string, error) {
	dir, err := artifactCacheDir()
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.PluginLoad, "resolving plugin cache dir", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s-%s", sanitizeID(id), version))
	if fs.FileExists(dest) {
		return dest, nil
	}
	if err := fs.EnsureDir(dest); err != nil {
		return "", forgeerr.Wrap(forgeerr.PluginLoad, "creating plugin cache dir", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = hclogAdapter{log}

	resp, err := client.Get(source)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.PluginLoad, fmt.Sprintf("fetching plugin %q from %s", id, source), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", forgeerr.New(forgeerr.PluginLoad,
			fmt.Sprintf("fetching plugin %q: server returned %s", id, resp.Status))
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.PluginLoad, "writing plugin artifact", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", forgeerr.Wrap(forgeerr.PluginLoad, "writing plugin artifact", err)
	}
	out.Close()
	if err := os.Rename(tmp, dest); err != nil {
		return "", forgeerr.Wrap(forgeerr.PluginLoad, "finalizing plugin artifact", err)
	}
	return dest, nil
}

func sanitizeID(id string) string {
	return fs.SanitizeForFilename(id)
}

// hclogAdapter satisfies retryablehttp.LeveledLogger using an hclog.Logger.
type hclogAdapter struct {
	log hclog.Logger
}

func (a hclogAdapter) Error(msg string, kv ...interface{}) { a.log.Error(msg, kv...) }
func (a hclogAdapter) Info(msg string, kv ...interface{})  { a.log.Info(msg, kv...) }
func (a hclogAdapter) Debug(msg string, kv ...interface{}) { a.log.Debug(msg, kv...) }
func (a hclogAdapter) Warn(msg string, kv ...interface{})  { a.log.Warn(msg, kv...) }
