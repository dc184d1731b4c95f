// Package window implements the window source over X11: per-process window
// enumeration and foreground-window detection.
package window

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/snapshot"
)

// Source queries the X server for window state. Construction fails when no
// X display is reachable; callers then run without window data.
type Source struct {
	conn *xgb.Conn
	root xproto.Window
}

// NewSource connects to the X server.
func NewSource() (*Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	return &Source{
		conn: conn,
		root: root,
	}, nil
}

// Close closes the X connection.
func (s *Source) Close() {
	s.conn.Close()
}

// WindowsFor returns the top-level windows owned by pid, using EWMH
// _NET_CLIENT_LIST with a QueryTree fallback.
func (s *Source) WindowsFor(pid int32) ([]snapshot.Window, error) {
	log := logger.WithComponent("x11-source")

	ids, err := s.clientList()
	if err != nil || len(ids) == 0 {
		log.Debug().Err(err).Msg("_NET_CLIENT_LIST unavailable, falling back to QueryTree")
		ids, err = s.queryTree()
		if err != nil {
			return nil, err
		}
	}

	windows := make([]snapshot.Window, 0)
	for _, id := range ids {
		info, err := s.windowInfo(id)
		if err != nil {
			continue
		}
		if info.PID != pid {
			continue
		}
		// Skip unnamed helper windows.
		if info.Title == "" && info.Class == "" {
			continue
		}
		windows = append(windows, *info)
	}
	return windows, nil
}

// ActiveWindow returns the foreground window when it belongs to pid, and
// (nil, nil) when another process holds the focus.
func (s *Source) ActiveWindow(pid int32) (*snapshot.Window, error) {
	activeAtom, err := s.getAtom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return nil, err
	}

	reply, err := xproto.GetProperty(
		s.conn,
		false,
		s.root,
		activeAtom,
		xproto.AtomWindow,
		0,
		1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_ACTIVE_WINDOW: %w", err)
	}
	if len(reply.Value) < 4 {
		return nil, fmt.Errorf("_NET_ACTIVE_WINDOW is empty")
	}

	win := xproto.Window(decodeU32(reply.Value))
	if win == 0 {
		return nil, fmt.Errorf("no window has focus")
	}

	info, err := s.windowInfo(win)
	if err != nil {
		return nil, err
	}
	if info.PID != pid {
		return nil, nil
	}
	return info, nil
}

// clientList reads window ids from _NET_CLIENT_LIST (EWMH standard).
func (s *Source) clientList() ([]xproto.Window, error) {
	atom, err := s.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}

	reply, err := xproto.GetProperty(
		s.conn,
		false,
		s.root,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	ids := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		ids = append(ids, xproto.Window(decodeU32(reply.Value[i:])))
	}
	return ids, nil
}

// queryTree lists the root window's children.
func (s *Source) queryTree() ([]xproto.Window, error) {
	tree, err := xproto.QueryTree(s.conn, s.root).Reply()
	if err != nil {
		return nil, err
	}
	return tree.Children, nil
}

// windowInfo retrieves title, class, owner pid, visibility and geometry for
// one window.
func (s *Source) windowInfo(win xproto.Window) (*snapshot.Window, error) {
	info := &snapshot.Window{
		ID: uint32(win),
	}

	if title, err := s.stringProperty(win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	}
	if info.Title == "" {
		if title, err := s.stringProperty(win, "WM_NAME"); err == nil {
			info.Title = title
		}
	}

	if class, err := s.stringProperty(win, "WM_CLASS"); err == nil {
		info.Class = parseClass(class)
	}

	pidAtom, err := s.getAtom("_NET_WM_PID")
	if err == nil {
		pidReply, err := xproto.GetProperty(
			s.conn,
			false,
			win,
			pidAtom,
			xproto.AtomCardinal,
			0,
			1,
		).Reply()
		if err == nil && len(pidReply.Value) >= 4 {
			info.PID = int32(decodeU32(pidReply.Value))
		}
	}

	if attrs, err := xproto.GetWindowAttributes(s.conn, win).Reply(); err == nil {
		info.Visible = attrs.MapState == xproto.MapStateViewable
	}

	if geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(win)).Reply(); err == nil {
		left := int(geom.X)
		top := int(geom.Y)
		// Absolute screen coordinates when the window is reparented.
		if trans, err := xproto.TranslateCoordinates(s.conn, win, s.root, 0, 0).Reply(); err == nil {
			left = int(trans.DstX)
			top = int(trans.DstY)
		}
		info.Rect = &snapshot.Rect{
			Left:   left,
			Top:    top,
			Right:  left + int(geom.Width),
			Bottom: top + int(geom.Height),
		}
	}

	return info, nil
}

// getAtom gets an atom ID by name
func (s *Source) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(s.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// stringProperty gets a property value as a string
func (s *Source) stringProperty(win xproto.Window, atomName string) (string, error) {
	atom, err := s.getAtom(atomName)
	if err != nil {
		return "", err
	}

	reply, err := xproto.GetProperty(
		s.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}

	return string(reply.Value), nil
}

// parseClass extracts the class name from a WM_CLASS value, which holds the
// instance and class as NUL-separated strings.
func parseClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return raw
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
