package config

import (
	"time"

	"github.com/spf13/pflag"
)

type Server struct {
	Address string `default:":8000"`
	Https   bool
	Tls     struct {
		Address   string `default:":443"`
		Domain    string
		HttpsKey  string
		HttpsCert string
		// CertCache is where automatic certificates are kept
		CertCache string `default:"cache/certs"`
	}
}

func (s *Server) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	fs.BoolVar(&s.Https, "https", s.Https, "Serve over HTTPS")
	fs.StringVar(&s.Tls.Address, "https.address", s.Tls.Address, "HTTPS server address (host:port)")
	fs.StringVar(&s.Tls.HttpsKey, "https.key", s.Tls.HttpsKey, "HTTPS key")
	fs.StringVar(&s.Tls.HttpsCert, "https.cert", s.Tls.HttpsCert, "HTTPS chain")
	fs.StringVar(&s.Tls.Domain, "https.domain", s.Tls.Domain, "A domain for automatic Let's Encrypt certificates")
	fs.StringVar(&s.Tls.CertCache, "https.cache", s.Tls.CertCache, "A directory for automatic certificates")
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Monitoring struct {
	Port             int    `default:"6601"`
	URLPrefix        string `default:"/relay"`
	MetricEnabled    bool   `fig:"metric_enabled"`
	ProfilingEnabled bool   `fig:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

func (c *Monitoring) WithFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "monitoring.port", c.Port, "Monitoring server port")
	fs.BoolVar(&c.MetricEnabled, "monitoring.metric", c.MetricEnabled, "Enable Prometheus metrics")
	fs.BoolVar(&c.ProfilingEnabled, "monitoring.pprof", c.ProfilingEnabled, "Enable pprof")
}

// Socket holds the limits of a signaling connection.
type Socket struct {
	// max size of an inbound message in bytes
	MaxMessageSize int64 `default:"65536"`
	// how many outbound messages may wait for a slow client
	// before the connection is considered broken
	SendQueue int           `default:"64"`
	PongWait  time.Duration `default:"60s"`
	WriteWait time.Duration `default:"10s"`
}

// PingPeriod is how often the relay pings a client. Must be less than PongWait.
func (s Socket) PingPeriod() time.Duration { return s.PongWait * 9 / 10 }
