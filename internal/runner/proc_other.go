//go:build !unix

package runner

import "os/exec"

// configureProcessGroup keeps exec's default cancellation, which kills only
// the direct child.
func configureProcessGroup(cmd *exec.Cmd) {}
