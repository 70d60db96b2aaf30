package trade

import (
	"encoding/binary"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/solkey"
)

// swapInstructionTag identifies the swap instruction in the AMM program.
const swapInstructionTag = 9

// PoolAuthority derives the pool's authority PDA, which owns the vaults.
func PoolAuthority(programID, poolAddress string) (string, error) {
	poolKey, err := solkey.Decode32(poolAddress)
	if err != nil {
		return "", err
	}
	addr, _, err := solkey.FindProgramAddress(
		[][]byte{[]byte("amm"), poolKey[:]},
		programID,
	)
	return addr, err
}

// SwapInstruction builds the AMM swap instruction. Vault ordering follows
// the trade direction: input vault before output vault.
func SwapInstruction(programID string, p *domain.Pool, user, userInputATA, userOutputATA string, inputMint string, amountIn, minAmountOut uint64) (*Instruction, error) {
	authority, err := PoolAuthority(programID, p.Address)
	if err != nil {
		return nil, err
	}

	vaultIn, vaultOut := p.TokenAVault, p.TokenBVault
	if inputMint == p.TokenBMint {
		vaultIn, vaultOut = p.TokenBVault, p.TokenAVault
	}

	data := make([]byte, 17)
	data[0] = swapInstructionTag
	binary.LittleEndian.PutUint64(data[1:9], amountIn)
	binary.LittleEndian.PutUint64(data[9:17], minAmountOut)

	return &Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{Pubkey: p.Address, IsWritable: true},
			{Pubkey: authority},
			{Pubkey: user, IsSigner: true, IsWritable: true},
			{Pubkey: userInputATA, IsWritable: true},
			{Pubkey: userOutputATA, IsWritable: true},
			{Pubkey: vaultIn, IsWritable: true},
			{Pubkey: vaultOut, IsWritable: true},
			{Pubkey: p.FeeAccount, IsWritable: true},
			{Pubkey: solkey.TokenProgram},
		},
		Data: data,
	}, nil
}

// CreateATAInstruction builds the associated-token-account create
// instruction for owner's account of mint, funded by payer.
func CreateATAInstruction(payer, owner, mint string) (*Instruction, error) {
	ata, err := solkey.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	return &Instruction{
		ProgramID: solkey.AssociatedTokenProgram,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: solkey.SystemProgram},
			{Pubkey: solkey.TokenProgram},
		},
		Data: nil,
	}, nil
}
