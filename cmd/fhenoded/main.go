// Command fhenoded is the single-process bootstrap of spec.md §12's
// "oldmain.cpp-style" supplement: node, miner and RPC server wired
// together in one process by default, mining optionally disabled via
// --mine=false. Modeled on the teacher's cmd/kcn/main.go urfave/cli.v1
// app idiom, trimmed to this node's much smaller flag surface.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fhenode/fhenode/blockstore"
	"github.com/fhenode/fhenode/chain"
	"github.com/fhenode/fhenode/chainmanager"
	"github.com/fhenode/fhenode/chainstate"
	"github.com/fhenode/fhenode/compstore"
	"github.com/fhenode/fhenode/config"
	"github.com/fhenode/fhenode/log"
	"github.com/fhenode/fhenode/mempool"
	"github.com/fhenode/fhenode/miner"
	"github.com/fhenode/fhenode/node"
	"github.com/fhenode/fhenode/rpc"
	"github.com/fhenode/fhenode/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/urfave/cli.v1"
)

var logger = log.NewModuleLogger(log.Node)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to config.toml",
		Value: "config.toml",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory for the wallet keyfile (placeholder: this node keeps no other persistent state)",
		Value: ".",
	}
	portFlag = cli.IntFlag{
		Name:  "port",
		Usage: "peer listen port (overrides config.toml net.port)",
	}
	rpcPortFlag = cli.IntFlag{
		Name:  "rpcport",
		Usage: "JSON-RPC listen port (overrides config.toml net.rpc_port)",
	}
	mineFlag = cli.BoolTFlag{
		Name:  "mine",
		Usage: "run the miner loop (default true)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "fhenoded"
	app.Usage = "FHE-consensus blockchain node"
	app.Flags = []cli.Flag{configFlag, dataDirFlag, portFlag, rpcPortFlag, mineFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	if p := ctx.Int(portFlag.Name); p != 0 {
		cfg.Net.Port = uint16(p)
	}
	if p := ctx.Int(rpcPortFlag.Name); p != 0 {
		cfg.Net.RPCPort = uint16(p)
	}

	cs := chainstate.New()
	bs := blockstore.New()
	mp := mempool.New()
	cst := compstore.New()

	main, err := chain.New(cfg.Chain, cs, bs, mp, cst)
	if err != nil {
		return err
	}

	keyPath := ctx.String(dataDirFlag.Name) + "/wallet.json"
	w, err := wallet.Load(keyPath)
	if err != nil {
		logger.Info("no existing wallet found, generating a new one", "path", keyPath)
		w, err = wallet.New()
		if err != nil {
			return err
		}
		if err := w.Save(keyPath); err != nil {
			logger.Warn("could not persist new wallet", "err", err)
		}
	}

	mgr := chainmanager.New(main, w)
	n := node.New(cfg.Net, mgr, mp, cst, bs, w)
	if err := n.Start(); err != nil {
		return err
	}

	server := &rpc.Server{Manager: mgr, Mempool: mp, Wallet: w, Node: n}
	rpcAddr := net.JoinHostPort(cfg.Net.RPCAddress, strconv.Itoa(int(cfg.Net.RPCPort)))
	go func() {
		logger.Info("rpc server listening", "addr", rpcAddr)
		if err := http.ListenAndServe(rpcAddr, server.Router()); err != nil {
			logger.Error("rpc server exited", "err", err)
		}
	}()

	go serveMetrics(mgr, mp)

	if ctx.BoolT(mineFlag.Name) {
		go mineLoop(n, mgr, mp, cst, w)
	}

	select {}
}

// mineLoop repeatedly builds and submits a block atop the current tip, the
// way the original's main loop drives continuous mining (spec.md §4.7).
func mineLoop(n *node.Node, mgr *chainmanager.Manager, mp *mempool.Pool, cst *compstore.Store, w *wallet.Wallet) {
	for {
		head := mgr.Main.Head()
		height := mgr.Main.Height() + 1
		difficulty := mgr.Main.GetDifficultyForHeight(height)
		reward := mgr.Main.RewardForHeight(height)

		comps := cst.CollectComputations(uint64(difficulty))
		if len(comps) == 0 {
			time.Sleep(time.Second)
			continue
		}

		txs := mp.GetTop(mgr.Main.DefaultTxPerBlock())
		result := miner.Mine(head, height, difficulty, reward, txs, comps, w, n.StopFlag)
		if !result.HaveResult {
			continue
		}

		if err := n.AcceptMinedBlock(result.Block); err != nil {
			logger.Error("mined block rejected by own chain manager", "err", err)
		}
	}
}

func serveMetrics(mgr *chainmanager.Manager, mp *mempool.Pool) {
	height := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fhenode_chain_height",
		Help: "Current main chain height.",
	}, func() float64 { return float64(mgr.Main.Height()) })
	poolSize := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fhenode_mempool_size",
		Help: "Number of transactions currently pooled.",
	}, func() float64 { return float64(mp.Len()) })
	prometheus.MustRegister(height, poolSize)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics server listening", "addr", ":9872")
	if err := http.ListenAndServe(":9872", mux); err != nil {
		logger.Error("metrics server exited", "err", err)
	}
}
