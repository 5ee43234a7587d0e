package cli

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ice "gortc.io/iceagent"
	"gortc.io/iceagent/harvest"
	"gortc.io/iceagent/internal/filter"
	"gortc.io/iceagent/internal/manage"
	"gortc.io/iceagent/internal/reload"
	"gortc.io/iceagent/metrics"
	"gortc.io/iceagent/sdp"
	"gortc.io/iceagent/socket"
)

const keyPrometheusActive = "agent.prometheus.active"

type streamConfig struct {
	Name       string `mapstructure:"name"`
	Components int    `mapstructure:"components"`
}

type remoteConfig struct {
	Stream     string   `mapstructure:"stream"`
	Ufrag      string   `mapstructure:"ufrag"`
	Password   string   `mapstructure:"password"`
	Candidates []string `mapstructure:"candidates"`
}

func parseNominationStrategy(s string) ice.NominationStrategy {
	switch strings.ToLower(s) {
	case "", "first_valid":
		return ice.NominateFirstValid
	case "highest_priority":
		return ice.NominateHighestPriority
	case "first_host_or_reflexive_valid":
		return ice.NominateFirstHostOrReflexiveValid
	case "best_rtt":
		return ice.NominateBestRTT
	case "none":
		return ice.NominateNone
	default:
		return ice.NominateFirstValid
	}
}

func parseKeepAliveStrategy(s string) ice.KeepAliveStrategy {
	switch strings.ToLower(s) {
	case "", "selected_only":
		return ice.SelectedOnly
	case "all_succeeded":
		return ice.AllSucceeded
	default:
		return ice.SelectedOnly
	}
}

// parseOptions builds an agent Options from config, overlaying
// DefaultOptions with whatever the config file sets.
func parseOptions(v *viper.Viper) ice.Options {
	o := ice.DefaultOptions()
	if s := v.GetString("agent.software"); s != "" {
		o.Software = s
	}
	if n := v.GetInt("agent.max_check_list_size"); n > 0 {
		o.MaxCheckListSize = n
	}
	if d := v.GetDuration("agent.termination_delay"); d > 0 {
		o.TerminationDelay = d
	}
	if d := v.GetDuration("agent.ta"); d > 0 {
		o.Ta = d
	}
	if d := v.GetDuration("agent.list_grace_period"); d > 0 {
		o.ListGracePeriod = d
	}
	if d := v.GetDuration("agent.relayed_nomination_debounce"); d > 0 {
		o.RelayedNominationDebounce = d
	}
	if d := v.GetDuration("agent.keep_alive_interval"); d > 0 {
		o.KeepAliveInterval = d
	}
	o.NominationStrategy = parseNominationStrategy(v.GetString("agent.nomination_strategy"))
	o.KeepAliveStrategy = parseKeepAliveStrategy(v.GetString("agent.keep_alive_strategy"))
	o.UseComponentSocket = v.GetBool("agent.use_component_socket") || !v.IsSet("agent.use_component_socket")
	o.UseDynamicHostHarvester = v.GetBool("agent.use_dynamic_host_harvester") || !v.IsSet("agent.use_dynamic_host_harvester")
	return o
}

// harvestStream gathers host candidates for every component of stream
// and starts a demuxing socket.Socket over each so inbound datagrams
// reach agent (spec.md §5's worker executor), with workers goroutines
// per socket (a workers <= 0 selects one). When
// stunServer is non-nil, it additionally queries that server for each
// host candidate's server-reflexive mapping before the demuxing socket
// takes over the base connection.
func harvestStream(l *zap.Logger, agent *ice.Agent, foundations *ice.FoundationsRegistry, s *ice.Stream, count, workers int, bag *filter.Bag, stunServer *net.UDPAddr) {
	if count <= 0 {
		count = 1
	}
	for id := 1; id <= count; id++ {
		comp := s.Component(id)
		h := harvest.NewHostHarvester(foundations, id)
		cands, err := h.Harvest(comp)
		if err != nil {
			l.Error("failed to harvest host candidates", zap.Int("component", id), zap.Error(err))
			continue
		}
		if stunServer != nil {
			srflx := harvest.NewServerReflexiveHarvester(foundations, id, stunServer)
			for _, base := range cands {
				if _, err := srflx.Harvest(comp, base); err != nil {
					l.Warn("failed to harvest server-reflexive candidate", zap.Int("component", id), zap.Error(err))
				}
			}
		}
		for _, c := range cands {
			conn := c.Conn()
			if conn == nil {
				continue
			}
			sock := socket.New(conn, agent, bag, workers, l.Named("socket"))
			go func(sock *socket.Socket) {
				if err := sock.Serve(); err != nil {
					l.Warn("socket serve stopped", zap.Error(err))
				}
			}(sock)
		}
	}
}

func applyRemoteConfig(agent *ice.Agent, streams map[string]*ice.Stream, raw []remoteConfig) error {
	for _, r := range raw {
		s, ok := streams[r.Stream]
		if !ok {
			return fmt.Errorf("remote config references unknown stream %q", r.Stream)
		}
		agent.SetRemoteCredentials(ice.Credentials{Ufrag: r.Ufrag, Password: r.Password})
		descs, err := sdp.ParseAll(r.Candidates)
		if err != nil {
			return fmt.Errorf("failed to parse remote candidates for stream %q: %w", r.Stream, err)
		}
		agent.AddRemoteCandidates(s, descs)
	}
	return nil
}

type reloadNotifierAdapter struct {
	n reload.Notifier
}

func (a reloadNotifierAdapter) Notify() {
	select {
	case a.n.C <- struct{}{}:
	default:
	}
}

func execRun(v *viper.Viper) {
	l := getLogger(v)
	defer func() { _ = l.Sync() }()

	if strings.Split(v.GetString("version"), ".")[0] != "1" {
		l.Fatal("unsupported config file version", zap.String("v", v.GetString("version")))
	}

	opts := parseOptions(v)
	localCreds, err := ice.GenerateCredentials(time.Now())
	if err != nil {
		l.Fatal("failed to generate local credentials", zap.Error(err))
	}
	agent, err := ice.NewAgent(opts, v.GetBool("agent.controlling"), localCreds, l)
	if err != nil {
		l.Fatal("failed to construct agent", zap.Error(err))
	}
	l.Info("local credentials generated", zap.String("ufrag", localCreds.Ufrag))

	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(prometheus.Labels{"agent": localCreds.Ufrag})
	if err := reg.Register(m); err != nil {
		l.Fatal("failed to register metrics", zap.Error(err))
	}
	agent.SetMetrics(m)

	if pprofAddr := v.GetString("agent.pprof"); pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		go func() {
			if err := http.ListenAndServe(pprofAddr, mux); err != nil {
				l.Error("pprof failed to listen", zap.String("addr", pprofAddr), zap.Error(err))
			}
		}()
	}
	if prometheusAddr := v.GetString("agent.prometheus.addr"); prometheusAddr != "" && v.GetBool(keyPrometheusActive) {
		go func() {
			h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(l)})
			if err := http.ListenAndServe(prometheusAddr, h); err != nil {
				l.Error("prometheus failed to listen", zap.String("addr", prometheusAddr), zap.Error(err))
			}
		}()
	}

	n := reload.NewNotifier()
	updater := reload.NewUpdater(opts)
	updater.Subscribe(agent)
	go func() {
		for range n.C {
			l.Info("reloading configuration")
			if err := v.ReadInConfig(); err != nil {
				l.Error("failed to read config", zap.Error(err))
				continue
			}
			updater.Set(parseOptions(v))
			l.Info("configuration reloaded")
		}
	}()

	if apiAddr := v.GetString("api.addr"); apiAddr != "" {
		mgr := manage.NewManager(l.Named("api"), agent, reloadNotifierAdapter{n})
		go func() {
			if err := http.ListenAndServe(apiAddr, mgr); err != nil {
				l.Error("management api failed to listen", zap.String("addr", apiAddr), zap.Error(err))
			}
		}()
	}

	var rawStreams []streamConfig
	if err := v.UnmarshalKey("agent.streams", &rawStreams); err != nil {
		l.Fatal("failed to parse agent.streams", zap.Error(err))
	}
	if len(rawStreams) == 0 {
		rawStreams = []streamConfig{{Name: "data", Components: 1}}
	}

	var stunServer *net.UDPAddr
	if addr := v.GetString("agent.stun_server"); addr != "" {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			l.Fatal("failed to resolve agent.stun_server", zap.String("addr", addr), zap.Error(err))
		}
		stunServer = resolved
	}

	bag := filter.NewBag()
	streams := make(map[string]*ice.Stream, len(rawStreams))
	workers := v.GetInt("agent.workers")
	for _, sc := range rawStreams {
		s := agent.AddStream(sc.Name)
		streams[sc.Name] = s
		harvestStream(l, agent, agent.Foundations(), s, sc.Components, workers, bag, stunServer)
	}

	var rawRemote []remoteConfig
	if err := v.UnmarshalKey("agent.remote", &rawRemote); err != nil {
		l.Fatal("failed to parse agent.remote", zap.Error(err))
	}
	if len(rawRemote) > 0 {
		if err := applyRemoteConfig(agent, streams, rawRemote); err != nil {
			l.Fatal("failed to apply remote description", zap.Error(err))
		}
		agent.StartConnectivityEstablishment()
	}

	l.Info("agent running", zap.String("ufrag", localCreds.Ufrag))
	select {}
}

func getRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the ICE agent",
		Run: func(cmd *cobra.Command, args []string) {
			execRun(v)
		},
	}
	cmd.Flags().Bool("controlling", true, "start in the controlling role")
	mustBind(v.BindPFlag("agent.controlling", cmd.Flags().Lookup("controlling")))
	return cmd
}

func getRoot(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ice-agent",
		Short: "ice-agent runs a standalone ICE (RFC 8445) connectivity-check agent",
		Run: func(cmd *cobra.Command, args []string) {
			execRun(v)
		},
	}
	cobra.OnInitialize(func() { initConfig(v) })
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+defaultConfigName+".yml)")
	cmd.AddCommand(getRunCmd(v), getReloadCmd(v), getKeyCmd())
	return cmd
}
