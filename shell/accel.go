package shell

import (
	"fmt"
	"io"
	"strconv"

	"tinygo.org/x/drivers/adxl345"
)

// accel samples an ADXL345 through the TinyGo driver, which talks to the
// bus through its drivers.I2C methods.
func (s *Shell) accel(args []string, w io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("usage: accel BUS [ADDR]")
	}
	b, err := s.openBus(args[0])
	if err != nil {
		return err
	}
	addr := uint64(adxl345.AddressLow)
	if len(args) == 2 {
		if addr, err = strconv.ParseUint(args[1], 0, 7); err != nil {
			return fmt.Errorf("%s: invalid address", args[1])
		}
	}

	sensor := adxl345.New(b)
	sensor.Address = uint16(addr)
	sensor.Configure()

	x, y, z := sensor.ReadRawAcceleration()
	_, err = fmt.Fprintf(w, "x=%d y=%d z=%d\n", x, y, z)
	return err
}
