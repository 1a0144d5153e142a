package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/sitegen-backend/internal/app"
	"github.com/yungbote/sitegen-backend/internal/platform/shutdown"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// regenerate runs generation in-process for the given operations, bypassing
// the queue.
func main() {
	var ops idList
	flag.Var(&ops, "op", "operation id to regenerate (repeatable)")
	flag.Parse()
	if len(ops) == 0 {
		fmt.Println("usage: regenerate -op <operation-id> [-op ...]")
		os.Exit(2)
	}

	ids := make([]uuid.UUID, 0, len(ops))
	for _, s := range ops {
		id, err := uuid.Parse(s)
		if err != nil {
			fmt.Printf("invalid operation id %q: %v\n", s, err)
			os.Exit(2)
		}
		ids = append(ids, id)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	failed := 0
	for _, id := range ids {
		state, err := application.Regenerate(ctx, id)
		if err != nil {
			failed++
			fmt.Printf("%s\t%s\terror: %v\n", id, state.Name(), err)
			continue
		}
		fmt.Printf("%s\t%s\n", id, state.Name())
	}
	if failed > 0 {
		application.Close()
		os.Exit(1)
	}
}
