// The bvm command is a local front end for the Bali Virtual Machine. It
// executes compiled type documents against a local document repository,
// resumes tasks parked on the wait queue, disassembles bytecode, and lists
// the published task events.
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/inconshreveable/log15"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/bali-nebula/bvm/pkg/elements"
	"github.com/bali-nebula/bvm/pkg/instruction"
	"github.com/bali-nebula/bvm/pkg/intrinsics"
	"github.com/bali-nebula/bvm/pkg/repository"
	"github.com/bali-nebula/bvm/pkg/vm"
)

const version = "1.0.0"

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	repositoryFlag = cli.StringFlag{
		Name:  "repository",
		Usage: "directory of the local document repository (empty for in-memory)",
	}
	gasFlag = cli.Uint64Flag{
		Name:  "gas",
		Usage: "initial account balance for a new task",
	}
	traceFlag = cli.BoolFlag{
		Name:  "trace",
		Usage: "log every executed instruction",
	}
	procedureFlag = cli.IntFlag{
		Name:  "procedure",
		Usage: "1-based ordinal of the procedure to execute",
		Value: 1,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "bvm"
	app.Version = version
	app.Usage = "the Bali Virtual Machine"
	app.Flags = []cli.Flag{configFlag, repositoryFlag, gasFlag, traceFlag}
	app.Commands = []cli.Command{
		{
			Name:      "execute",
			Usage:     "Execute a procedure from a compiled type document",
			ArgsUsage: "<type-document-file>",
			Flags:     []cli.Flag{procedureFlag},
			Action:    executeCommand,
		},
		{
			Name:   "resume",
			Usage:  "Resume the next task parked on the wait queue",
			Action: resumeCommand,
		},
		{
			Name:      "disassemble",
			Usage:     "Disassemble a base 16 bytecode string",
			ArgsUsage: "<bytecode-file>",
			Action:    disassembleCommand,
		},
		{
			Name:   "events",
			Usage:  "List the task events published by the repository",
			Action: eventsCommand,
		},
		{
			Name:   "dumpconfig",
			Usage:  "Show configuration values",
			Action: dumpConfigCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// makeConfig merges the configuration file with the command-line flags.
func makeConfig(ctx *cli.Context) (bvmConfig, error) {
	cfg := defaultConfig()
	if file := ctx.GlobalString(configFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(repositoryFlag.Name) {
		cfg.RepositoryPath = ctx.GlobalString(repositoryFlag.Name)
	}
	if ctx.GlobalIsSet(gasFlag.Name) {
		cfg.GasAllowance = ctx.GlobalUint64(gasFlag.Name)
	}
	if ctx.GlobalBool(traceFlag.Name) {
		cfg.Trace = true
	}
	return cfg, nil
}

func openRepository(cfg bvmConfig) (*repository.Local, error) {
	if cfg.RepositoryPath == "" {
		return repository.NewMemory(), nil
	}
	return repository.NewLocal(cfg.RepositoryPath)
}

func newProcessor(cfg bvmConfig, repo *repository.Local, task *vm.TaskContext) *vm.Processor {
	processor := vm.NewProcessor(repo, intrinsics.Standard(), task)
	if cfg.Trace {
		processor.SetTracer(vm.NewTracer(log.New("pkg", "trace")))
	}
	return processor
}

// executeCommand commits a compiled type document to the repository, builds
// a task for the selected procedure, and runs it to its first suspension
// point or completion.
func executeCommand(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected a type document file")
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	typeDocument, err := elements.ParseCatalog(string(source))
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	typeTag := elements.NewTag()
	typeVersion := elements.Version{1}
	citation, err := repo.CommitDocument(typeTag, typeVersion, typeDocument)
	if err != nil {
		return err
	}
	entry, err := vm.NewProcedureContext(citation, typeDocument, ctx.Int(procedureFlag.Name), nil, nil)
	if err != nil {
		return err
	}
	task := vm.NewTask(cfg.accountTag(), cfg.GasAllowance, entry)
	if err := newProcessor(cfg, repo, task).Run(); err != nil {
		return err
	}
	return reportTask(task)
}

// resumeCommand pulls the next checkpointed task off the wait queue and
// continues executing it.
func resumeCommand(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	message, err := repo.ReceiveMessage(repository.WaitQueue)
	if err != nil {
		return err
	}
	if message == nil {
		fmt.Println("The wait queue is empty.")
		return nil
	}
	document, ok := message.(*elements.Catalog)
	if !ok {
		return fmt.Errorf("the wait queue held a non-task message: %s", message.Format())
	}
	task, err := vm.ImportTask(document)
	if err != nil {
		return err
	}
	if err := newProcessor(cfg, repo, task).Run(); err != nil {
		return err
	}
	return reportTask(task)
}

func reportTask(task *vm.TaskContext) error {
	fmt.Println("Task:    ", task.Tag().Format())
	fmt.Println("Status:  ", task.Status().Format())
	fmt.Println("Balance: ", task.Balance())
	fmt.Println("Cycles:  ", task.Cycles())
	if result := task.Result(); result != nil {
		fmt.Println("Result:  ", result.Format())
	}
	if exception := task.Exception(); exception != nil {
		fmt.Println("Exception:", exception.Format())
	}
	return nil
}

// disassembleCommand renders a bytecode listing from a file holding a
// base 16 binary string.
func disassembleCommand(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected a bytecode file")
	}
	source, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	text := strings.TrimSpace(string(source))
	if !strings.HasPrefix(text, "'") {
		text = "'" + text + "'"
	}
	value, err := elements.Parse(text)
	if err != nil {
		return err
	}
	binary, ok := value.(elements.Binary)
	if !ok {
		return fmt.Errorf("the file does not hold a binary string")
	}
	bytecode, err := instruction.FromBytes(binary)
	if err != nil {
		return err
	}
	fmt.Print(instruction.Disassemble(bytecode))
	return nil
}

// eventsCommand tabulates the task events published by the repository.
func eventsCommand(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	events, err := repo.Events()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Event", "Task", "Balance", "Cycles", "Outcome"})
	for _, event := range events {
		row := make([]string, 5)
		for i, key := range []elements.Symbol{"eventType", "taskTag", "accountBalance", "clockCycles"} {
			if value := event.GetValue(key); value != nil {
				row[i] = value.Format()
			}
		}
		if result := event.GetValue(elements.Symbol("result")); result != nil {
			row[4] = result.Format()
		} else if exception := event.GetValue(elements.Symbol("exception")); exception != nil {
			row[4] = exception.Format()
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func dumpConfigCommand(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	return dumpConfig(cfg)
}
