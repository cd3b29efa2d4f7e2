package iio

// ChannelLayout maps logical capture channels onto device columns.
type ChannelLayout struct {
	// Requested is the number of logical channels exposed downstream.
	Requested uint32
	// PerDevice is the number of interleaved channels per device.
	PerDevice uint32
	// Devices is the number of concatenated devices.
	Devices uint32
}

// NewChannelLayout clamps requested to the physical channel count.
// Zero requests every physical channel.
func NewChannelLayout(requested, perDevice, devices uint32) ChannelLayout {
	total := perDevice * devices
	if requested == 0 || requested > total {
		requested = total
	}

	return ChannelLayout{Requested: requested, PerDevice: perDevice, Devices: devices}
}

// Columns returns the number of device columns needed to cover Requested channels.
func (l ChannelLayout) Columns() uint32 {
	if l.PerDevice == 0 {
		return 0
	}

	return (l.Requested + l.PerDevice - 1) / l.PerDevice
}

// Locate returns the block column and the in-frame offset of logical channel chn.
func (l ChannelLayout) Locate(chn uint32) (col, offset uint32) {
	return chn / l.PerDevice, chn % l.PerDevice
}

// Demux copies nframes of every requested channel from block into dst, scaling each sample.
//
// dst is indexed by logical channel; a nil entry means the channel has no consumer and is skipped.
// The frame count is clamped to the block and to each destination length. Demux does not allocate.
func Demux(dst [][]float32, block *RawBlock, nframes uint32, layout ChannelLayout, scale float32) {
	if layout.PerDevice == 0 || layout.PerDevice != block.Channels() {
		return
	}

	nframes = min(nframes, block.Frames())
	channels := min(layout.Requested, uint32(len(dst)))
	stride := layout.PerDevice

	for chn := uint32(0); chn < channels; chn++ {
		out := dst[chn]
		if out == nil {
			continue
		}

		col, offset := layout.Locate(chn)
		if col >= block.Columns() {
			continue
		}

		src := block.Column(col)
		n := min(nframes, uint32(len(out)))

		for frame := uint32(0); frame < n; frame++ {
			out[frame] = float32(src[frame*stride+offset]) * scale
		}
	}
}
