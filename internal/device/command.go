package device

import (
	"fmt"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

// Command is one GATT operation queued for a device. The concrete types are
// Subscribe, Unsubscribe, Read and Write; the consumer switches over them
// exhaustively.
type Command interface {
	fmt.Stringer
	characteristic() ftms.Characteristic
}

// Subscribe enables notifications. A nil Callback routes notifications to the
// device's Handler.
type Subscribe struct {
	Char     ftms.Characteristic
	Callback func(buf []byte)
}

type Unsubscribe struct {
	Char ftms.Characteristic
}

// Read fetches a characteristic value and hands it to Callback.
type Read struct {
	Char     ftms.Characteristic
	Callback func(buf []byte)
}

type Write struct {
	Char    ftms.Characteristic
	Payload []byte
}

func (c Subscribe) characteristic() ftms.Characteristic   { return c.Char }
func (c Unsubscribe) characteristic() ftms.Characteristic { return c.Char }
func (c Read) characteristic() ftms.Characteristic        { return c.Char }
func (c Write) characteristic() ftms.Characteristic       { return c.Char }

func (c Subscribe) String() string   { return "Subscribe(" + c.Char.Name + ")" }
func (c Unsubscribe) String() string { return "Unsubscribe(" + c.Char.Name + ")" }
func (c Read) String() string        { return "Read(" + c.Char.Name + ")" }
func (c Write) String() string       { return fmt.Sprintf("Write(%s, % X)", c.Char.Name, c.Payload) }
