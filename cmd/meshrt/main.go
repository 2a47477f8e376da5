// Command meshrt is a minimal embedded-caller demo: it wires up a single
// App running one graph with one echo extension, sends it a "ping", and
// prints the reply. It is not a general-purpose CLI for driving arbitrary
// graphs — that surface is explicitly out of scope (spec.md §1).
package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/meshrt/examples/echoext"
	"github.com/relaymesh/meshrt/mesh"
)

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	app := mesh.NewApp("localhost", mesh.WithLogger(log))
	if err := echoext.Register(app.Registry.Extensions); err != nil {
		fmt.Fprintln(os.Stderr, "registering echoext:", err)
		os.Exit(1)
	}

	decl := &mesh.GraphDecl{
		Nodes: []mesh.NodeDecl{
			{Kind: mesh.NodeKindExtension, Name: "echo", Addon: echoext.AddonName, ExtensionGroup: "default"},
		},
	}

	eng, err := app.StartGraph(decl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "starting graph:", err)
		os.Exit(1)
	}

	go func() {
		// Give the extension's configure/init/start chain a moment to settle
		// before the first command arrives; a real embedding caller would
		// instead wait on a "graph ready" notification.
		time.Sleep(100 * time.Millisecond)

		cmd := mesh.NewCmd("ping")
		cmd.Props.Set("echo", mesh.NewString("hello, mesh"))
		err := eng.PostExternalCmd("echo", cmd, func(result *mesh.Message, err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, "ping failed:", err)
			} else if echo, ok := result.Props.Get("echo"); ok {
				s, _ := echo.AsString()
				fmt.Println("pong:", s)
			}
			app.Close()
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "sending ping:", err)
			app.Close()
		}
	}()

	app.Run()
}
