package stdoutwriter

import "fmt"

// Logger writes logs to the standard output.
type Logger struct{}

// Write satisfies io.Writer abstraction.
func (l Logger) Write(p []byte) (n int, err error) {
	fmt.Println(string(p))
	return len(p), nil
}
