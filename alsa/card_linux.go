package alsa

import (
	"fmt"
	"os"
	"unsafe"
)

// CardName returns the name the control device reports for a card.
func CardName(card uint) (string, error) {
	path := fmt.Sprintf("/dev/snd/controlC%d", card)

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open control device %s: %w", path, err)
	}
	defer file.Close()

	var info sndCtlCardInfo
	if err := ioctl(file.Fd(), SNDRV_CTL_IOCTL_CARD_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		return "", fmt.Errorf("ioctl CARD_INFO failed: %w", err)
	}

	return cString(info.Name[:]), nil
}
