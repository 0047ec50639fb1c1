package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"recorddb/config"
	"recorddb/engine"
	"recorddb/lockmgr"
)

var (
	serveDataFile   string
	serveSchemaName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open a data file and accept line-oriented commands on stdin",
	Long: "Serve is a trivial stand-in for the out-of-scope command-dispatch\n" +
		"server (spec §1): a REPL that exercises the engine's eight primitives\n" +
		"one line at a time, for manual testing. It mints one CallerId per\n" +
		"run and releases everything that caller holds on exit, the way the\n" +
		"surrounding layer would on a session disconnect.",
	RunE: serveRun,
}

func init() {
	fs := serveCmd.Flags()
	fs.StringVarP(&serveDataFile, "data", "d", "", "data file `path` to open (falls back to the config file's data_file)")
	fs.StringVar(&serveSchemaName, "schema", "v2", "logical schema to open with: v1 or v2")
}

func serveRun(cmd *cobra.Command, args []string) error {
	dataFile := flagOrConfig(cmd.Flags(), "data", cfg.DataFile)
	if dataFile == "" {
		return fmt.Errorf("recorddb: no data file given (--data or config data_file)")
	}

	logical, err := logicalSchema(serveSchemaName)
	if err != nil {
		return err
	}

	defaults := lockmgr.DefaultConfig()
	lockCfg := lockmgr.Config{
		Capacity:        cfg.Lock.Capacity,
		DeadlockTimeout: config.ParseDuration(cfg.Lock.DeadlockTimeout, defaults.DeadlockTimeout),
		RecheckInterval: config.ParseDuration(cfg.Lock.RecheckInterval, defaults.RecheckInterval),
	}

	e, err := engine.Open(dataFile, logical, lockCfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	caller := engine.NewCallerId()
	defer e.ReleaseAllOwnedBy(caller)

	fmt.Printf("recorddb: serving %s as caller %s (type HELP for commands)\n", dataFile, caller)
	runREPL(e, caller)
	return nil
}

func runREPL(e *engine.Engine, caller engine.CallerId) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("recorddb> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return
		}
		dispatchLine(e, caller, line)
	}
}

// dispatchLine splits the verb from the rest of the line once, so a
// pipe-delimited column blob (column values may themselves contain spaces,
// e.g. a "location" of "New York") is never cut short by a later split.
func dispatchLine(e *engine.Engine, caller engine.CallerId, line string) {
	head := strings.SplitN(line, " ", 2)
	verb := strings.ToUpper(head[0])
	rest := ""
	if len(head) == 2 {
		rest = strings.TrimSpace(head[1])
	}

	switch verb {
	case "HELP":
		printHelp()
	case "READ":
		withRecNo(rest, func(n int) {
			cols, err := e.Read(n)
			report(cols, err)
		})
	case "CREATE":
		if rest == "" {
			fmt.Println("usage: CREATE col1|col2|...")
			return
		}
		n, err := e.Create(splitColumns(rest))
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("created record", n)
	case "LOCK":
		withRecNo(rest, func(n int) {
			ctx, cancel := context.WithTimeout(context.Background(), lockmgr.DefaultConfig().RecheckInterval*6)
			defer cancel()
			if err := e.Lock(ctx, caller, n); err != nil {
				fmt.Println("error:", err)
				return
			}
			fmt.Println("locked", n)
		})
	case "UNLOCK":
		withRecNo(rest, func(n int) {
			if err := e.Unlock(caller, n); err != nil {
				fmt.Println("error:", err)
				return
			}
			fmt.Println("unlocked", n)
		})
	case "ISLOCKED":
		withRecNo(rest, func(n int) {
			owner, locked := e.IsLocked(n)
			if !locked {
				fmt.Println("false")
				return
			}
			fmt.Println("true, owner", owner)
		})
	case "UPDATE":
		recNoStr, data, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("usage: UPDATE <n> col1|col2|...")
			return
		}
		n, err := strconv.Atoi(recNoStr)
		if err != nil {
			fmt.Println("error: bad record number:", recNoStr)
			return
		}
		if err := e.Update(caller, n, splitColumns(data)); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("staged update for", n)
	case "DELETE":
		withRecNo(rest, func(n int) {
			if err := e.Delete(caller, n); err != nil {
				fmt.Println("error:", err)
				return
			}
			fmt.Println("staged delete for", n)
		})
	case "FIND":
		if rest == "" {
			fmt.Println("usage: FIND crit1|crit2|... (use * for any)")
			return
		}
		recNos, rows, err := e.Find(splitCriteria(rest))
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		for i, n := range recNos {
			fmt.Printf("%d: %s\n", n, strings.Join(rows[i], "|"))
		}
	default:
		fmt.Println("unknown command; type HELP")
	}
}

func withRecNo(rest string, fn func(int)) {
	if rest == "" {
		fmt.Println("usage: <verb> <record-number>")
		return
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		fmt.Println("error: bad record number:", rest)
		return
	}
	fn(n)
}

func report(cols []string, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(strings.Join(cols, "|"))
}

func splitColumns(s string) []string {
	return strings.Split(s, "|")
}

func splitCriteria(s string) []*string {
	parts := strings.Split(s, "|")
	criteria := make([]*string, len(parts))
	for i, p := range parts {
		if p == "*" {
			continue
		}
		v := p
		criteria[i] = &v
	}
	return criteria
}

func printHelp() {
	fmt.Println(`commands:
  READ <n>
  CREATE col1|col2|...
  LOCK <n>
  UNLOCK <n>
  ISLOCKED <n>
  UPDATE <n> col1|col2|...
  DELETE <n>
  FIND crit1|crit2|...   (use * to match any value)
  EXIT`)
}
