// Package proc supervises the lifetime of one worker OS process: start with
// log-file redirection, liveness probing, and a SIGTERM-then-SIGKILL stop
// sequence with bounded drains. A single goroutine owns cmd.Wait; every other
// observer reads the resulting exit notification channel.
package proc
