package usecase

// verificationPrompt is sent with the document image first and the selfie second.
const verificationPrompt = `Analise as duas imagens fornecidas:
1. A primeira imagem é um documento de identidade oficial (RG, CNH ou passaporte).
2. A segunda imagem é uma selfie tirada no momento.

Verifique se:
- As características faciais correspondem entre as imagens
- A pessoa na selfie parece ser a mesma do documento
- Não há indícios de fraude ou manipulação nas imagens

Responda somente com um objeto JSON, sem texto adicional, com a estrutura:
{"match": boolean, "confidence": number entre 0 e 1, "reasons": string[]}`
