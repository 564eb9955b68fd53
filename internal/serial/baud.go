package serial

import "time"

// standardBauds maps the common POSIX baud rates to their CBAUD-encoded
// Termios/Termios2 control flag value.
var standardBauds = map[int]CFlag{
	50:      B50,
	75:      B75,
	110:     B110,
	134:     B134,
	150:     B150,
	200:     B200,
	300:     B300,
	600:     B600,
	1200:    B1200,
	1800:    B1800,
	2400:    B2400,
	4800:    B4800,
	9600:    B9600,
	19200:   B19200,
	38400:   B38400,
	57600:   B57600,
	115200:  B115200,
	230400:  B230400,
	460800:  B460800,
	500000:  B500000,
	576000:  B576000,
	921600:  B921600,
	1000000: B1000000,
	1152000: B1152000,
	1500000: B1500000,
	2000000: B2000000,
	2500000: B2500000,
	3000000: B3000000,
	3500000: B3500000,
	4000000: B4000000,
}

// BaudConstant resolves a baud rate in bits per second to the CBAUD-encoded
// constant accepted by Termios.SetSpeed. Rates with no standard constant
// fall back to Termios2's BOTHER/custom-speed path via SetCustomSpeed.
func BaudConstant(baud int) (CFlag, bool) {
	c, ok := standardBauds[baud]
	return c, ok
}

// OpenRaw opens device at name, puts it into raw 8N1 no-flow-control mode at
// baud, and returns the ready-to-use Port. This is the configuration the
// relay's SerialEndpoint always wants: canonical mode, echo, and signal
// generation are all incompatible with treating the device as a byte pipe.
func OpenRaw(name string, baud int, readTimeout time.Duration) (*Port, error) {
	opts := NewOptions()
	if readTimeout >= 0 {
		opts.SetReadTimeout(readTimeout)
	}
	p, err := Open(name, opts)
	if err != nil {
		return nil, err
	}
	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.Cflag &= ^(CSTOPB | CRTSCTS)
	attrs.Iflag &= ^(IXOFF | IXANY)
	attrs.Cflag |= CREAD | CLOCAL
	if c, ok := BaudConstant(baud); ok {
		attrs.SetSpeed(c)
	} else {
		attrs2 := &Termios2{
			Iflag: attrs.Iflag,
			Oflag: attrs.Oflag,
			Cflag: attrs.Cflag,
			Lflag: attrs.Lflag,
			Line:  attrs.Line,
			Cc:    attrs.Cc,
		}
		attrs2.SetCustomSpeed(uint32(baud))
		if err := p.SetAttr2(TCSANOW, attrs2); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}
	if err := p.SetAttr(TCSANOW, attrs); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}
