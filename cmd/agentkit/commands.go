package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"AgentKit-Chain/internal/api"
	"AgentKit-Chain/internal/config"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/simulator"
	"AgentKit-Chain/internal/sink"
	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/pkg/logger"
)

const defaultConfigFile = "agentkit.json"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   defaultConfigFile,
	Usage:   "Agent 配置文件路径",
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "根据模板生成 Agent 配置",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Value: "defi", Usage: "可选模板: " + strings.Join(templateNames(), ", ")},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Agent 名称"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Value: ".", Usage: "目标目录"},
			&cli.BoolFlag{Name: "force", Usage: "覆盖已有配置"},
		},
		Action: func(c *cli.Context) error {
			tpl, ok := templates[c.String("template")]
			if !ok {
				return fmt.Errorf("未知的模板 %q，可选: %s", c.String("template"), strings.Join(templateNames(), ", "))
			}
			dir := c.String("dir")
			path := filepath.Join(dir, defaultConfigFile)
			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s 已存在，使用 --force 覆盖", path)
			}

			cfg := configFor(tpl, c.String("name"))
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			success(c.App.Writer, "已创建 %s（%s Agent %q）", path, tpl.Type, cfg.Agent.Name)

			envPath := filepath.Join(dir, ".env.example")
			if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(envPath, []byte(envExample), 0o644); err != nil {
					return fmt.Errorf("写入 .env.example 失败: %w", err)
				}
				success(c.App.Writer, "已创建 %s", envPath)
			}
			fmt.Fprintf(c.App.Writer, "\n下一步: agentkit test -c %s\n", path)
			return nil
		},
	}
}

func testCommand(opts hostOptions) *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "用市场场景回放验证 Agent 的决策逻辑",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Agent 配置文件，省略时使用模板"},
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Value: "defi", Usage: "未指定 --config 时使用的模板"},
			&cli.StringFlag{Name: "scenario", Aliases: []string{"s"}, Usage: "场景名称，见 agentkit list"},
			&cli.DurationFlag{Name: "duration", Usage: "回放时长上限"},
			&cli.DurationFlag{Name: "delay", Usage: "事件间隔"},
			&cli.Int64Flag{Name: "seed", Usage: "随机种子，用于复现结果"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "记录每一步回放日志"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := testConfig(c)
			if err != nil {
				return err
			}
			opts.ephemeral = true
			h, err := newHost(c.Context, cfg, opts)
			if err != nil {
				return err
			}
			defer h.Close()
			return runScenario(c.Context, c.App.Writer, h, cfg.Simulator)
		},
	}
}

func testConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := loadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		tpl, ok := templates[c.String("template")]
		if !ok {
			return nil, fmt.Errorf("未知的模板 %q", c.String("template"))
		}
		cfg = configFor(tpl, "")
		cfg.ApplyDefaults(".")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	// 回放只使用本地模拟链。
	cfg.Agent.Network = web3.TypeMock
	cfg.Agent.ContractAddress = ""

	if c.IsSet("scenario") {
		cfg.Simulator.Scenario = c.String("scenario")
	}
	if c.IsSet("duration") {
		cfg.Simulator.DurationMS = int(c.Duration("duration").Milliseconds())
	}
	if c.IsSet("delay") {
		cfg.Simulator.DelayMS = int(c.Duration("delay").Milliseconds())
	}
	if c.IsSet("seed") {
		cfg.Simulator.Seed = c.Int64("seed")
	}
	if c.Bool("verbose") {
		cfg.Simulator.Verbose = true
	}
	return cfg, nil
}

func runScenario(ctx context.Context, w io.Writer, h *host, cfg config.SimulatorConfig) error {
	if err := h.agent.Init(ctx); err != nil {
		return err
	}
	if err := h.agent.Start(ctx); err != nil {
		return err
	}
	defer h.agent.Stop(context.WithoutCancel(ctx))

	sim := simulator.New(simulator.Config{
		Duration:        cfg.Duration(),
		Delay:           cfg.Delay(),
		ProcessingDelay: cfg.ProcessingDelay(),
		Scenario:        cfg.Scenario,
		Verbose:         cfg.Verbose,
		Seed:            cfg.Seed,
	}, simulator.WithAgent(h.agent))

	var (
		mu        sync.Mutex
		decisions = map[string]int{}
	)
	ai := h.agent.AI()
	scenario, events := sim.Resolve()
	for _, kind := range eventTypes(events) {
		sim.On(kind, func(ctx context.Context, evt eventbus.Event) error {
			decision, err := ai.Analyze(ctx, evt)
			if err != nil {
				return err
			}
			mu.Lock()
			decisions[decision.Action]++
			mu.Unlock()
			return nil
		})
	}

	fmt.Fprintf(w, "为 Agent %q 回放场景 %q\n", h.agent.Name(), scenario)
	result, err := sim.Run(ctx)
	if err != nil {
		return err
	}
	renderResult(w, result, decisions)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	success(w, "回放完成（%s）", result.Scenario)
	return nil
}

func eventTypes(events []simulator.Event) []string {
	seen := make(map[string]struct{}, len(events))
	var kinds []string
	for _, evt := range events {
		if _, ok := seen[evt.Type]; ok {
			continue
		}
		seen[evt.Type] = struct{}{}
		kinds = append(kinds, evt.Type)
	}
	return kinds
}

func renderResult(w io.Writer, result *simulator.Result, decisions map[string]int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"指标", "数值"})
	table.Append([]string{"场景", result.Scenario})
	table.Append([]string{"事件总数", strconv.Itoa(result.TotalEvents)})
	table.Append([]string{"动作总数", strconv.Itoa(result.TotalActions)})
	table.Append([]string{"成功", strconv.Itoa(result.SuccessfulActions)})
	table.Append([]string{"失败", strconv.Itoa(result.FailedActions)})
	table.Append([]string{"成功率", fmt.Sprintf("%.1f%%", result.SuccessRate*100)})
	table.Append([]string{"平均响应", result.AvgResponseTime.String()})
	table.Append([]string{"平均 gas", fmt.Sprintf("%.0f", result.AvgGasUsed)})
	table.Append([]string{"耗时", result.Elapsed.Round(time.Millisecond).String()})
	table.Render()

	if len(decisions) == 0 {
		return
	}
	actions := make([]string, 0, len(decisions))
	for action := range decisions {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	fmt.Fprintln(w)
	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"决策", "次数"})
	for _, action := range actions {
		table.Append([]string{action, strconv.Itoa(decisions[action])})
	}
	table.Render()
}

func deployCommand(opts hostOptions) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "将 Agent 合约部署到配置的网络",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "network", Usage: "覆盖 agent.network"},
			&cli.StringFlag{Name: "bytecode", Aliases: []string{"b"}, Usage: "合约字节码文件（十六进制或原始字节）"},
			&cli.Uint64Flag{Name: "gas-limit", Usage: "创建交易的 gas 上限"},
			&cli.StringFlag{Name: "gas-price", Usage: "gas 价格，单位 wei"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("network") {
				cfg.Agent.Network = c.String("network")
			}
			h, err := newHost(c.Context, cfg, opts)
			if err != nil {
				return err
			}
			defer h.Close()

			result, err := deploy(c.Context, h, cfg, c.String("bytecode"), c.Uint64("gas-limit"), c.String("gas-price"))
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(c.App.Writer)
			table.SetHeader([]string{"字段", "值"})
			table.Append([]string{"网络", result.Network})
			table.Append([]string{"合约地址", result.ContractAddress})
			table.Append([]string{"交易哈希", result.TxHash})
			table.Append([]string{"gas 消耗", strconv.FormatUint(result.GasUsed, 10)})
			table.Render()
			success(c.App.Writer, "合约已部署，请将 agent.contract_address 设置为 %s", result.ContractAddress)
			return nil
		},
	}
}

func deploy(ctx context.Context, h *host, cfg *config.Config, bytecodePath string, gasLimit uint64, gasPrice string) (*web3.DeploymentResult, error) {
	network, err := h.networks.Resolve(cfg.Agent.Network)
	if err != nil {
		return nil, err
	}
	code, err := readBytecode(bytecodePath, network)
	if err != nil {
		return nil, err
	}
	return h.agent.Deploy(ctx, web3.DeployOptions{
		Network:  network.Name,
		Bytecode: code,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	})
}

// readBytecode 读取十六进制或原始字节码；模拟网络允许省略。
func readBytecode(path string, network web3.Network) ([]byte, error) {
	if path == "" {
		if network.Type == web3.TypeMock {
			return []byte("agentkit-mock-contract"), nil
		}
		return nil, errors.New("部署到真实网络时必须通过 --bytecode 指定合约字节码")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取字节码失败: %w", err)
	}
	text := strings.TrimSpace(string(content))
	if !strings.HasPrefix(text, "0x") {
		text = "0x" + text
	}
	if code, err := hexutil.Decode(text); err == nil {
		return code, nil
	}
	return content, nil
}

func monitorCommand(opts hostOptions) *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "运行 Agent 并提供状态、指标与事件流接口",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "监听地址，覆盖 monitor.address"},
			&cli.BoolFlag{Name: "deploy", Usage: "启动前先部署合约"},
			&cli.StringFlag{Name: "bytecode", Aliases: []string{"b"}, Usage: "配合 --deploy 使用的字节码"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("address") {
				cfg.Monitor.Address = c.String("address")
			}
			h, err := newHost(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer h.Close()
			guard, err := newAuth(cfg.Monitor.Auth)
			if err != nil {
				return err
			}

			if c.Bool("deploy") {
				result, err := deploy(ctx, h, cfg, c.String("bytecode"), 0, "")
				if err != nil {
					return err
				}
				success(c.App.Writer, "合约已部署在 %s", result.ContractAddress)
			}
			if err := h.agent.Init(ctx); err != nil {
				return err
			}
			if network, err := h.networks.Resolve(cfg.Agent.Network); err == nil && network.Type == web3.TypeMock {
				ledger := h.connector.MockChain()
				ledger.Start(ctx)
				defer ledger.Stop()
			}
			if err := h.agent.Start(ctx); err != nil {
				return err
			}
			defer h.agent.Stop(context.WithoutCancel(ctx))

			success(c.App.Writer, "Agent %q 状态 %s，监控地址 %s", h.agent.Name(), h.agent.Status(), cfg.Monitor.Address)
			server := api.NewServer(cfg.Monitor.Address, h.agent, api.WithCollector(h.collector), api.WithAuth(guard))
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// errEnough 表示已收到 --limit 指定数量的事件。
var errEnough = errors.New("已达到事件数量上限")

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "从配置的 sink 订阅并打印 Agent 事件",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "type", Usage: "只打印该类型的事件"},
			&cli.IntFlag{Name: "limit", Usage: "收到指定数量的事件后退出，0 表示不限"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPaths: cfg.Logging.Outputs}); err != nil {
				return err
			}
			defer logger.Sync()

			consumer, closer, err := openConsumer(c.Context, cfg.Sink)
			if err != nil {
				return err
			}
			defer closer.Close()

			kind, limit := c.String("type"), c.Int("limit")
			seen := 0
			err = consumer.Consume(c.Context, func(_ context.Context, evt eventbus.Event) error {
				if kind != "" && evt.Type != kind {
					return nil
				}
				data, _ := json.Marshal(evt.Data)
				fmt.Fprintf(c.App.Writer, "%s  %-16s %-12s %s\n", evt.Timestamp.Format(time.RFC3339), evt.Type, evt.Source, data)
				seen++
				if limit > 0 && seen >= limit {
					return errEnough
				}
				return nil
			})
			if errors.Is(err, errEnough) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// openConsumer 打开可跨进程订阅的 sink。
func openConsumer(ctx context.Context, cfg config.SinkConfig) (sink.Consumer, io.Closer, error) {
	switch cfg.Driver {
	case "redis", "rabbitmq", "nats":
	default:
		return nil, nil, fmt.Errorf("sink.driver %q 不支持跨进程订阅，可选 redis、rabbitmq 或 nats", cfg.Driver)
	}
	p, err := openSink(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	consumer, ok := p.(sink.Consumer)
	if !ok {
		_ = p.Close()
		return nil, nil, fmt.Errorf("sink.driver %q 不支持订阅", cfg.Driver)
	}
	return consumer, p, nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "列出模板、场景与网络",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "networks", Usage: "额外网络定义的 YAML 文件"},
		},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			registry := web3.NewRegistry()
			if err := registry.LoadFile(c.String("networks")); err != nil {
				return err
			}

			fmt.Fprintln(w, "模板")
			table := tablewriter.NewWriter(w)
			table.SetHeader([]string{"名称", "类型", "自主等级", "触发器", "说明"})
			for _, name := range templateNames() {
				tpl := templates[name]
				table.Append([]string{name, string(tpl.Type), string(tpl.Autonomy), strings.Join(tpl.Triggers, ","), tpl.Description})
			}
			table.Render()

			fmt.Fprintln(w, "\n场景")
			table = tablewriter.NewWriter(w)
			table.SetHeader([]string{"名称", "事件数"})
			for _, name := range simulator.Scenarios() {
				events, _ := simulator.Lookup(name)
				table.Append([]string{name, strconv.Itoa(len(events))})
			}
			table.Render()

			fmt.Fprintln(w, "\n网络")
			table = tablewriter.NewWriter(w)
			table.SetHeader([]string{"名称", "Chain ID", "类型", "RPC"})
			for _, n := range registry.Networks() {
				table.Append([]string{n.Name, strconv.FormatInt(n.ChainID, 10), n.Type, n.RPCURL})
			}
			table.Render()
			return nil
		},
	}
}
