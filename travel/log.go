/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package travel

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. Every component logs through a named
// derivative of it (cluster, route, trip, pass, geocode, ingest, ...).
var Log = newLogger()

// newLogger builds the process logger: a human console log on stderr at
// debug level, and a JSON feed at info level for any live subscribers
// (websocket connections added with AddLogConn). Both are sampled so a
// busy pass cannot firehose the console or the sockets.
func newLogger() *zap.Logger {
	subscribersOut := zapcore.Lock(zapcore.AddSync(logSubscribers))
	consoleOut := zapcore.Lock(os.Stderr)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format("2006/01/02 15:04:05.000"))
	}
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), consoleOut, zap.DebugLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), subscribersOut, zap.InfoLevel),
	)

	const firstNMsgs, everyNthMsg = 10, 100
	core = zapcore.NewSamplerWithOptions(core, time.Second, firstNMsgs, everyNthMsg)

	return zap.New(&unsampledStatusCore{core})
}

// connFanout writes each log line to every subscribed websocket
// connection, best-effort: one broken conn never blocks the others, and
// conns found closed are dropped from the pool.
type connFanout struct {
	conns   []*websocket.Conn
	connsMu sync.RWMutex
}

func (f *connFanout) Write(p []byte) (n int, err error) {
	f.connsMu.RLock()
	for _, conn := range f.conns {
		err = conn.WriteMessage(websocket.TextMessage, p)
		if errors.Is(err, websocket.ErrCloseSent) {
			defer f.remove(conn)
		}
	}
	f.connsMu.RUnlock()
	return len(p), err
}

func (f *connFanout) add(conn *websocket.Conn) {
	f.connsMu.Lock()
	f.conns = append(f.conns, conn)
	f.connsMu.Unlock()
}

func (f *connFanout) remove(conn *websocket.Conn) {
	f.connsMu.Lock()
	for i, c := range f.conns {
		if c == conn {
			f.conns = append(f.conns[:i], f.conns[i+1:]...)
			break
		}
	}
	f.connsMu.Unlock()
}

var logSubscribers = new(connFanout)

// AddLogConn subscribes conn to the JSON log feed. Callers should
// remove the conn with RemoveLogConn when it closes.
func AddLogConn(conn *websocket.Conn) { logSubscribers.add(conn) }

// RemoveLogConn unsubscribes conn. It is idempotent.
func RemoveLogConn(conn *websocket.Conn) { logSubscribers.remove(conn) }

// unsampledStatusCore exempts pass progress lines from sampling; live
// subscribers mirror pass state and would desync if lines were dropped.
type unsampledStatusCore struct {
	zapcore.Core
}

func (c *unsampledStatusCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.LoggerName == "pass.status" {
		return ce.AddCore(ent, c)
	}
	return c.Core.Check(ent, ce)
}
