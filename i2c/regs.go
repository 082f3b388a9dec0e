package i2c

// DesignWare APB I2C register offsets from the block base.
const (
	regCon          = 0x00 // IC_CON
	regTar          = 0x04 // IC_TAR
	regDataCmd      = 0x10 // IC_DATA_CMD
	regSSSclHcnt    = 0x14 // IC_SS_SCL_HCNT
	regSSSclLcnt    = 0x18 // IC_SS_SCL_LCNT
	regFSSclHcnt    = 0x1c // IC_FS_SCL_HCNT
	regFSSclLcnt    = 0x20 // IC_FS_SCL_LCNT
	regHSSclHcnt    = 0x24 // IC_HS_SCL_HCNT
	regHSSclLcnt    = 0x28 // IC_HS_SCL_LCNT
	regIntrStat     = 0x2c // IC_INTR_STAT (masked)
	regIntrMask     = 0x30 // IC_INTR_MASK
	regRawIntrStat  = 0x34 // IC_RAW_INTR_STAT
	regRxTl         = 0x38 // IC_RX_TL
	regTxTl         = 0x3c // IC_TX_TL
	regClrIntr      = 0x40 // IC_CLR_INTR, read to clear all
	regClrTxAbrt    = 0x54 // IC_CLR_TX_ABRT, read to clear
	regEnable       = 0x6c // IC_ENABLE
	regStatus       = 0x70 // IC_STATUS
	regTxflr        = 0x74 // IC_TXFLR
	regRxflr        = 0x78 // IC_RXFLR
	regTxAbrtSource = 0x80 // IC_TX_ABRT_SOURCE
	regEnableStatus = 0x9c // IC_ENABLE_STATUS
	regCompParam1   = 0xf4 // IC_COMP_PARAM_1
	regCompType     = 0xfc // IC_COMP_TYPE
)

// Exported offsets for the simulated block.
const (
	RegCon          = regCon
	RegTar          = regTar
	RegDataCmd      = regDataCmd
	RegSSSclHcnt    = regSSSclHcnt
	RegSSSclLcnt    = regSSSclLcnt
	RegFSSclHcnt    = regFSSclHcnt
	RegFSSclLcnt    = regFSSclLcnt
	RegHSSclHcnt    = regHSSclHcnt
	RegHSSclLcnt    = regHSSclLcnt
	RegIntrStat     = regIntrStat
	RegIntrMask     = regIntrMask
	RegRawIntrStat  = regRawIntrStat
	RegRxTl         = regRxTl
	RegTxTl         = regTxTl
	RegClrIntr      = regClrIntr
	RegClrTxAbrt    = regClrTxAbrt
	RegEnable       = regEnable
	RegStatus       = regStatus
	RegTxflr        = regTxflr
	RegRxflr        = regRxflr
	RegTxAbrtSource = regTxAbrtSource
	RegEnableStatus = regEnableStatus
	RegCompParam1   = regCompParam1
	RegCompType     = regCompType
)

// IC_CON
//
//	[0]   MASTER_MODE
//	[2:1] SPEED (1 standard, 2 fast, 3 high)
//	[4]   IC_10BITADDR_MASTER
//	[5]   IC_RESTART_EN
//	[6]   IC_SLAVE_DISABLE
const (
	ConMasterMode    = 1 << 0
	ConSpeedPos      = 1
	ConSpeedMsk      = 0x3
	Con10BitMaster   = 1 << 4
	ConRestartEn     = 1 << 5
	ConSlaveDisable  = 1 << 6
	ConTxEmptyCtrl   = 1 << 8
	conDefaultMaster = ConMasterMode | ConRestartEn | ConSlaveDisable
)

// IC_DATA_CMD
//
//	[7:0] DAT
//	[8]   CMD (1 = read)
//	[9]   STOP after this byte
//	[10]  RESTART before this byte
const (
	DataCmdRead    = 1 << 8
	DataCmdStop    = 1 << 9
	DataCmdRestart = 1 << 10
	DataCmdDatMsk  = 0xff
)

// Interrupt bits, shared by IC_INTR_STAT, IC_INTR_MASK and IC_RAW_INTR_STAT.
const (
	IntrRxUnder  = 1 << 0
	IntrRxOver   = 1 << 1
	IntrRxFull   = 1 << 2
	IntrTxOver   = 1 << 3
	IntrTxEmpty  = 1 << 4
	IntrTxAbrt   = 1 << 6
	IntrActivity = 1 << 8
	IntrStopDet  = 1 << 9
	IntrStartDet = 1 << 10

	intrTransfer = IntrTxEmpty | IntrRxFull | IntrTxAbrt
)

// IC_ENABLE
const (
	EnableEnable = 1 << 0
	EnableAbort  = 1 << 1
)

// IC_STATUS
const (
	StatusActivity    = 1 << 0
	StatusTfnf        = 1 << 1 // TX FIFO not full
	StatusTfe         = 1 << 2 // TX FIFO empty
	StatusRfne        = 1 << 3 // RX FIFO not empty
	StatusRff         = 1 << 4 // RX FIFO full
	StatusMstActivity = 1 << 5
)

// IC_TX_ABRT_SOURCE
//
//	[31:23] TX_FLUSH_CNT, entries flushed from the TX FIFO by the abort
const (
	AbrtAddrNoack     = 1 << 0
	AbrtTxDataNoack   = 1 << 3
	AbrtGcallNoack    = 1 << 4
	AbrtSbyteAckdet   = 1 << 7
	AbrtHsNorstrt     = 1 << 8
	AbrtMasterDis     = 1 << 11
	AbrtArbLost       = 1 << 12
	AbrtUserAbrt      = 1 << 16
	AbrtFlushCntPos   = 23
	AbrtFlushCntMsk   = 0x1ff
	abrtNackMask      = AbrtAddrNoack | AbrtTxDataNoack | AbrtGcallNoack
	abrtReasonBitsMsk = 1<<AbrtFlushCntPos - 1
)

// IC_COMP_PARAM_1
//
//	[15:8]  RX_BUFFER_DEPTH - 1
//	[23:16] TX_BUFFER_DEPTH - 1
const (
	ParamRxDepthPos = 8
	ParamTxDepthPos = 16
	ParamDepthMsk   = 0xff
)

// CompType is the value IC_COMP_TYPE reads back on a DesignWare block.
const CompType = 0x44570140

// DefaultFIFODepth is used when IC_COMP_PARAM_1 is not implemented.
const DefaultFIFODepth = 64
