package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// readlineConfirmationHandler builds a ConfirmationHandler-shaped
// closure backed by an interactive line editor, the default local/manual
// confirmation surface the core ships (the real terminal UI is an
// excluded collaborator, §1).
func readlineConfirmationHandler() func(ctx context.Context, title, message string) bool {
	rl, err := readline.New("confirm> ")
	if err != nil {
		// No interactive terminal available: deny everything, per §6's
		// "absence means deny all CONFIRMs".
		return func(ctx context.Context, title, message string) bool { return false }
	}
	return func(ctx context.Context, title, message string) bool {
		fmt.Println(message)
		line, err := rl.Readline()
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
