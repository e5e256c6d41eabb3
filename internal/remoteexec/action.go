package remoteexec

import (
	"runtime"
	"sort"
	"strings"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	durationpb "google.golang.org/protobuf/types/known/durationpb"

	"github.com/jbadeau/forge/internal/taskgraph"
)

// defaultActionTimeout is used when neither the target nor the workspace's
// remoteExecution.defaultTimeoutSeconds overrides it, per spec.md §4.9's
// Action "timeout (default 5 min...)".
const defaultActionTimeout = 5 * 60

// buildCommandMessage constructs the REv2 Command for task, per spec.md
// §4.9's "Command" section: a platform shell invocation of the joined
// commands, workingDirectory, environmentVariables, and outputPaths
// resolved via the same token substitution as inputs.
func buildCommandMessage(task *taskgraph.Task, commandLine string) *repb.Command {
	cmd := &repb.Command{
		Arguments:        shellArgs(commandLine),
		WorkingDirectory: task.ProjectRoot,
	}

	envNames := make([]string, 0, len(task.Target.Env))
	for k := range task.Target.Env {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)
	for _, k := range envNames {
		cmd.EnvironmentVariables = append(cmd.EnvironmentVariables,
			&repb.Command_EnvironmentVariable{Name: k, Value: task.Target.Env[k]})
	}

	for _, out := range task.Outputs {
		cmd.OutputPaths = append(cmd.OutputPaths, strings.ReplaceAll(out, "{projectRoot}", task.ProjectRoot))
	}

	return cmd
}

// shellArgs wraps commandLine in the platform shell invocation, mirroring
// the local executor's shellCommand so local and remote execution run
// identical command text.
func shellArgs(commandLine string) []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", commandLine}
	}
	return []string{"sh", "-c", commandLine}
}

// buildAction constructs the REv2 Action referencing commandDigest and
// inputRootDigest, per spec.md §4.9's "Action" section.
func buildAction(commandDigest, inputRootDigest *repb.Digest, timeoutSeconds int, cacheable bool) *repb.Action {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultActionTimeout
	}
	return &repb.Action{
		CommandDigest:   commandDigest,
		InputRootDigest: inputRootDigest,
		Timeout:         durationpb.New(time.Duration(timeoutSeconds) * time.Second),
		DoNotCache:      !cacheable,
	}
}
