package run

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// exitCodeKey prefixes the line in cwd.txt that marks a finished run.
const exitCodeKey = "EXIT_CODE="

// Detail is the classified state of a run together with the marker data
// it was derived from.
type Detail struct {
	State State
	// PID is the integer content of pid.txt, or 0 if absent or unparsable.
	PID int
	// PIDAlive reports whether PID names a live process. It never changes
	// State: presence of pid.txt alone means running.
	PIDAlive bool
	// ExitCode is the raw value of the first EXIT_CODE= line in cwd.txt.
	ExitCode string
}

// Classify returns the lifecycle state of the run in dir. pid.txt takes
// precedence over everything; otherwise an EXIT_CODE= line in cwd.txt
// means finished. A missing cwd.txt is not an error. On an unexpected read
// error the state is Unknown and the error is returned.
func Classify(dir string) (State, error) {
	if exists(filepath.Join(dir, PIDFile)) {
		return Running, nil
	}
	_, ok, err := ReadExitCode(filepath.Join(dir, CwdFile))
	if err != nil {
		return Unknown, err
	}
	if ok {
		return Finished, nil
	}
	return Unknown, nil
}

// Inspect classifies the run in dir like Classify and also reports the pid
// and exit code found in its marker files.
func Inspect(dir string) (Detail, error) {
	pidPath := filepath.Join(dir, PIDFile)
	if exists(pidPath) {
		d := Detail{State: Running, PID: readPID(pidPath)}
		if d.PID > 0 {
			d.PIDAlive = PIDAlive(d.PID)
		}
		return d, nil
	}

	code, ok, err := ReadExitCode(filepath.Join(dir, CwdFile))
	if err != nil {
		return Detail{State: Unknown}, err
	}
	if ok {
		return Detail{State: Finished, ExitCode: code}, nil
	}
	return Detail{State: Unknown}, nil
}

// ReadExitCode scans path line by line for the first line beginning with
// EXIT_CODE= and returns its value. A missing file reports ok=false.
func ReadExitCode(path string) (code string, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if strings.HasPrefix(line, exitCodeKey) {
			value := strings.TrimRight(strings.TrimPrefix(line, exitCodeKey), "\r\n")
			return value, true, nil
		}
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, errors.Wrapf(err, "reading %s", path)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid < 0 {
		return 0
	}
	return pid
}
